package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rail-conflict-advisor/internal/config"
	"rail-conflict-advisor/internal/di"
)

func newTestREPL(t *testing.T, script string) (*REPL, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error"
	cfg.Embedding.Dimensions = 64

	c, err := di.NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var out bytes.Buffer
	return NewREPL(c.Service, nil, strings.NewReader(script), &out, false), &out
}

func TestREPL_RecommendThenFeedback(t *testing.T) {
	script := strings.Join([]string{
		`recommend type=signal_failure severity=high station=Central tod=morning_peak desc="points failure at junction 4"`,
		`feedback strategy=reroute result=success delay=9 golden notes="cleared in 20 minutes"`,
		`effectiveness`,
		`:status`,
		`:quit`,
	}, "\n")
	r, out := newTestREPL(t, script)

	require.NoError(t, r.Start(context.Background()))

	text := out.String()
	assert.Contains(t, text, "reroute")
	assert.Contains(t, text, "80.0% -> 82.0%")
	assert.Contains(t, text, "Recommendations: 1")
	assert.Contains(t, text, "Feedback:        1")
	assert.NotContains(t, text, "Error:")

	s := r.Session()
	assert.NotEmpty(t, s.LastRecommendation)
	assert.Len(t, s.History, 4)
}

func TestREPL_ReportsErrorsAndContinues(t *testing.T) {
	script := strings.Join([]string{
		`feedback strategy=hold result=success`,
		`recommend type=meteor_strike severity=high station=Central tod=midday`,
		`recommend type=crew_shortage severity=medium station=Harbour tod=early_morning`,
		`:history`,
	}, "\n")
	r, out := newTestREPL(t, script)

	require.NoError(t, r.Start(context.Background()))

	text := out.String()
	assert.Contains(t, text, "no recommendation in this session yet")
	assert.Contains(t, text, "validation failed")
	assert.Contains(t, text, "cancellation")
	assert.Contains(t, text, "error | feedback")

	require.Len(t, r.Session().History, 4)
	assert.Error(t, r.Session().History[0].Error)
	assert.NoError(t, r.Session().History[2].Error)
}

func TestREPL_Simulate(t *testing.T) {
	r, out := newTestREPL(t, "simulate type=power_outage severity=low station=West tod=night delay=30\n")

	require.NoError(t, r.Start(context.Background()))
	assert.Contains(t, out.String(), "platform_change")
	assert.Equal(t, 0, r.Session().Recommendations)
}

func TestTokenize(t *testing.T) {
	tokens, err := tokenize(`feedback notes="two words" golden`)
	require.NoError(t, err)
	assert.Equal(t, []string{"feedback", "notes=two words", "golden"}, tokens)

	_, err = tokenize(`notes="open`)
	assert.Error(t, err)

	_, err = tokenize("   ")
	assert.Error(t, err)
}

func TestParseFields(t *testing.T) {
	fields, flags, err := parseFields([]string{"Type=signal_failure", "golden", "desc="})
	require.NoError(t, err)
	assert.Equal(t, "signal_failure", fields["type"])
	assert.Equal(t, "", fields["desc"])
	assert.True(t, flags["golden"])

	_, _, err = parseFields([]string{"=x"})
	assert.Error(t, err)
}
