// Package output renders advisor results for terminals, as tables or JSON
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"rail-conflict-advisor/internal/advisor"
	"rail-conflict-advisor/internal/learning"
	"rail-conflict-advisor/internal/ranking"
	"rail-conflict-advisor/internal/types"
)

// Format selects the rendering
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (use table or json)", s)
}

// Formatter writes results to w
type Formatter struct {
	w      io.Writer
	format Format

	high     *color.Color
	moderate *color.Color
	low      *color.Color
	muted    *color.Color
}

// NewFormatter creates a formatter. Colors are disabled when useColor is false.
func NewFormatter(w io.Writer, format Format, useColor bool) *Formatter {
	f := &Formatter{
		w:        w,
		format:   format,
		high:     color.New(color.FgGreen, color.Bold),
		moderate: color.New(color.FgYellow),
		low:      color.New(color.FgRed),
		muted:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{f.high, f.moderate, f.low, f.muted} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return f
}

// Recommendations renders a ranked result
func (f *Formatter) Recommendations(result *types.RecommendationResult) error {
	if f.format == FormatJSON {
		return f.JSON(result)
	}

	table := tablewriter.NewWriter(f.w)
	table.Header("#", "Strategy", "Confidence", "Risk", "Delay -min", "Recovery min", "Source", "Evidence")
	for i, rec := range result.Recommendations {
		_ = table.Append([]string{
			strconv.Itoa(i + 1),
			string(rec.Strategy),
			percent(rec.Confidence),
			f.risk(rec.RiskLevel),
			minutes(rec.PredictedDelayReductionMinutes),
			minutes(rec.PredictedRecoveryTimeMinutes),
			string(rec.Source),
			strconv.Itoa(len(rec.SimilarityEvidence)),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(f.w, "\nRecommendation %s  (%s, %s, %s, %s)\n",
		result.ID,
		ranking.ConflictTitle(result.Conflict.ConflictType),
		result.Conflict.Severity, result.Conflict.Station, result.Conflict.TimeOfDay)
	if result.SimulationOnly {
		_, _ = f.muted.Fprintln(f.w, "No comparable history: confidences are simulation-only.")
	}
	if len(result.Recommendations) > 0 {
		_, _ = fmt.Fprintf(f.w, "\n%s\n", result.Recommendations[0].Explanation)
	}
	return nil
}

// Predictions renders raw simulator output
func (f *Formatter) Predictions(predictions []types.Prediction) error {
	if f.format == FormatJSON {
		return f.JSON(predictions)
	}

	table := tablewriter.NewWriter(f.w)
	table.Header("Strategy", "Success", "Delay -min", "Recovery min", "Disruption", "Downstream min", "Effectiveness")
	for _, p := range predictions {
		eff := percent(p.Effectiveness)
		if p.Learned {
			eff += " (learned)"
		}
		_ = table.Append([]string{
			string(p.Strategy),
			percent(p.SuccessProbability),
			minutes(p.DelayReductionMinutes),
			minutes(p.RecoveryTimeMinutes),
			string(p.SideEffects.PassengerDisruption),
			minutes(p.SideEffects.DownstreamDelayMinutes),
			eff,
		})
	}
	return table.Render()
}

// Feedback renders what a feedback record changed
func (f *Formatter) Feedback(out *learning.Outcome) error {
	if f.format == FormatJSON {
		return f.JSON(out)
	}

	table := tablewriter.NewWriter(f.w)
	table.Header("Field", "Value")
	_ = table.Append([]string{"Recommendation", out.RecommendationID})
	_ = table.Append([]string{"Pair", out.Key.String()})
	_ = table.Append([]string{"Effectiveness", fmt.Sprintf("%s -> %s", percent(out.PreviousScore), percent(out.NewScore))})
	_ = table.Append([]string{"Version", strconv.FormatInt(out.Version, 10)})
	_ = table.Append([]string{"Prediction accuracy", percent(out.Accuracy)})
	caseState := "recorded"
	if !out.CaseUpdated {
		caseState = f.low.Sprint("skipped (no embedding)")
	}
	_ = table.Append([]string{"Case " + out.CaseID, caseState})
	return table.Render()
}

// Effectiveness renders the effectiveness table. learnedOnly hides pairs
// still at their rule base.
func (f *Formatter) Effectiveness(rows []advisor.EffectivenessRow, learnedOnly bool) error {
	if learnedOnly {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.Learned {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	if f.format == FormatJSON {
		return f.JSON(rows)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(f.w, "No learned effectiveness yet.")
		return nil
	}

	table := tablewriter.NewWriter(f.w)
	table.Header("Conflict type", "Strategy", "Base", "Current", "Samples")
	for _, r := range rows {
		current := percent(r.Current)
		switch {
		case r.Current > r.Base:
			current = f.high.Sprint(current)
		case r.Current < r.Base:
			current = f.low.Sprint(current)
		}
		_ = table.Append([]string{
			string(r.Key.ConflictType),
			string(r.Key.Strategy),
			percent(r.Base),
			current,
			strconv.FormatInt(r.Samples, 10),
		})
	}
	return table.Render()
}

// JSON writes v indented
func (f *Formatter) JSON(v interface{}) error {
	enc := json.NewEncoder(f.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (f *Formatter) risk(level types.RiskLevel) string {
	switch level {
	case types.RiskHigh:
		return f.high.Sprint(level)
	case types.RiskModerate:
		return f.moderate.Sprint(level)
	default:
		return f.low.Sprint(level)
	}
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func minutes(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
