package repl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rail-conflict-advisor/internal/types"
)

// handleCommand dispatches an advisor command
func (r *REPL) handleCommand(ctx context.Context, input string) error {
	tokens, err := tokenize(input)
	if err != nil {
		return err
	}
	command := strings.ToLower(tokens[0])
	fields, flags, err := parseFields(tokens[1:])
	if err != nil {
		return err
	}

	switch command {
	case "recommend", "rec":
		return r.recommend(ctx, fields)
	case "simulate", "sim":
		return r.simulate(ctx, fields)
	case "feedback", "fb":
		return r.feedback(ctx, fields, flags)
	case "effectiveness", "eff":
		return r.effectiveness(ctx, flags)
	default:
		return fmt.Errorf("unknown command: %s (type :help)", command)
	}
}

func (r *REPL) recommend(ctx context.Context, fields map[string]string) error {
	desc, err := descriptorFromFields(fields)
	if err != nil {
		return err
	}
	result, err := r.service.Recommend(ctx, desc)
	if err != nil {
		return err
	}

	r.session.mu.Lock()
	r.session.LastRecommendation = result.ID
	r.session.Recommendations++
	r.session.mu.Unlock()

	return r.formatter.Recommendations(result)
}

func (r *REPL) simulate(ctx context.Context, fields map[string]string) error {
	desc, err := descriptorFromFields(fields)
	if err != nil {
		return err
	}
	predictions, err := r.service.Simulate(ctx, desc)
	if err != nil {
		return err
	}
	return r.formatter.Predictions(predictions)
}

func (r *REPL) feedback(ctx context.Context, fields map[string]string, flags map[string]bool) error {
	id := fields["rec"]
	if id == "" || id == "last" {
		r.session.mu.RLock()
		id = r.session.LastRecommendation
		r.session.mu.RUnlock()
		if id == "" {
			return fmt.Errorf("no recommendation in this session yet; pass rec=<id>")
		}
	}

	var success bool
	switch strings.ToLower(fields["result"]) {
	case "success", "ok", "true":
		success = true
	case "failure", "fail", "false":
	default:
		return fmt.Errorf("result must be success or failure")
	}

	req := types.FeedbackRequest{
		RecommendationID: id,
		Strategy:         types.Strategy(fields["strategy"]),
		ActualSuccess:    success,
		IsGoldenRun:      flags["golden"],
		Notes:            fields["notes"],
	}
	if v, ok := fields["delay"]; ok {
		minutes, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("delay must be a number of minutes: %w", err)
		}
		req.ActualDelayReductionMinutes = minutes
	}

	out, err := r.service.SubmitFeedback(ctx, req)
	if err != nil {
		return err
	}

	r.session.mu.Lock()
	r.session.Feedback++
	r.session.mu.Unlock()

	return r.formatter.Feedback(out)
}

func (r *REPL) effectiveness(ctx context.Context, flags map[string]bool) error {
	rows, err := r.service.Effectiveness(ctx)
	if err != nil {
		return err
	}
	return r.formatter.Effectiveness(rows, !flags["all"])
}

// descriptorFromFields builds a descriptor from key=value fields. Values are
// not checked here; the service validates them.
func descriptorFromFields(fields map[string]string) (types.ConflictDescriptor, error) {
	desc := types.ConflictDescriptor{
		ConflictType: types.ConflictType(fields["type"]),
		Severity:     types.Severity(fields["severity"]),
		Station:      fields["station"],
		TimeOfDay:    types.TimeOfDay(fields["tod"]),
		Description:  fields["desc"],
	}
	if v, ok := fields["delay"]; ok {
		minutes, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return desc, fmt.Errorf("delay must be a number of minutes: %w", err)
		}
		desc.DelayBeforeMinutes = minutes
	}
	return desc, nil
}

// parseFields splits key=value tokens from bare flags
func parseFields(tokens []string) (map[string]string, map[string]bool, error) {
	fields := make(map[string]string)
	flags := make(map[string]bool)
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			flags[strings.ToLower(tok)] = true
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return nil, nil, fmt.Errorf("missing key in %q", tok)
		}
		fields[key] = value
	}
	return fields, flags, nil
}

// tokenize splits on whitespace, keeping double-quoted runs together
func tokenize(input string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, ch := range input {
		switch {
		case ch == '"':
			quoted = !quoted
			started = true
		case (ch == ' ' || ch == '\t') && !quoted:
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(ch)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if started {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return tokens, nil
}
