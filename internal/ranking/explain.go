package ranking

import (
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"rail-conflict-advisor/internal/types"
)

// downstreamWarningMinutes is the knock-on delay worth flagging
const downstreamWarningMinutes = 10.0

var explanationTemplate = template.Must(template.New("explanation").Funcs(template.FuncMap{
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
}).Parse(strings.TrimSpace(`
{{.Title}}: {{.Rationale}}
{{- if .Fused}}
History: {{.Cases}} similar case{{if ne .Cases 1}}s{{end}} (mean similarity {{pct .MeanSimilarity}}) succeeded {{pct .SuccessRate}} of the time; closest is {{.TopCaseID}} at {{pct .TopSimilarity}} similarity.
{{- else}}
Simulation-only estimate: fewer than {{.MinAttempts}} observed outcomes for this strategy in similar cases.
{{- end}}
Risk: {{.Risk}} (confidence {{pct .Confidence}}).
{{- range .Warnings}}
Warning: {{.}}.
{{- end}}
`)))

type explanationData struct {
	Title          string
	Rationale      string
	Fused          bool
	Cases          int
	MeanSimilarity float64
	SuccessRate    float64
	TopCaseID      string
	TopSimilarity  float64
	MinAttempts    int
	Risk           types.RiskLevel
	Confidence     float64
	Warnings       []string
}

// Title renders "Reroute for Signal Failure" style headings
func Title(strategy types.Strategy, conflictType types.ConflictType) string {
	return titleCase(strategy.Label()) + " for " + ConflictTitle(conflictType)
}

// ConflictTitle renders a conflict type as a heading, e.g. "Signal Failure"
func ConflictTitle(conflictType types.ConflictType) string {
	return titleCase(conflictType.Label())
}

// titleCase builds a caser per call; a Caser keeps state and is not safe
// for concurrent use
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func explain(desc types.ConflictDescriptor, p types.Prediction, rec types.Recommendation, h history, minAttempts int) string {
	data := explanationData{
		Title:       Title(p.Strategy, desc.ConflictType),
		Rationale:   p.Rationale,
		Fused:       rec.Source == types.SourceFused,
		MinAttempts: minAttempts,
		Risk:        rec.RiskLevel,
		Confidence:  rec.Confidence,
		Warnings:    warnings(p.SideEffects),
	}
	if data.Fused {
		data.Cases = h.contributors
		data.MeanSimilarity = h.meanSim
		data.SuccessRate = h.rate
		if len(h.evidence) > 0 {
			data.TopCaseID = h.evidence[0].CaseID
			data.TopSimilarity = h.evidence[0].Similarity
		}
	}

	var b strings.Builder
	if err := explanationTemplate.Execute(&b, data); err != nil {
		return data.Title
	}
	return b.String()
}

func warnings(se types.SideEffects) []string {
	var out []string
	if se.PassengerDisruption.AtLeast(types.DisruptionHigh) {
		out = append(out, "high passenger disruption")
	}
	if se.DownstreamDelayMinutes >= downstreamWarningMinutes {
		out = append(out, fmt.Sprintf("about %.0f minutes of downstream delay", se.DownstreamDelayMinutes))
	}
	return out
}
