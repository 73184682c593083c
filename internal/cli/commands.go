package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rail-conflict-advisor/internal/advisor"
	"rail-conflict-advisor/internal/output"
	"rail-conflict-advisor/internal/repl"
	"rail-conflict-advisor/internal/simulation"
	"rail-conflict-advisor/internal/types"
)

// descriptorFlags collects a conflict descriptor from flags or a JSON file.
// Flags set explicitly override the file.
type descriptorFlags struct {
	file         string
	conflictType string
	severity     string
	station      string
	timeOfDay    string
	description  string
	delay        float64
}

func (f *descriptorFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "Read the conflict descriptor from a JSON file (- for stdin)")
	flags.StringVarP(&f.conflictType, "type", "t", "", "Conflict type (e.g. signal_failure)")
	flags.StringVarP(&f.severity, "severity", "s", "", "Severity (low, medium, high)")
	flags.StringVar(&f.station, "station", "", "Station where the conflict occurs")
	flags.StringVar(&f.timeOfDay, "tod", "", "Time of day (e.g. morning_peak)")
	flags.StringVarP(&f.description, "description", "d", "", "Free text description")
	flags.Float64Var(&f.delay, "delay", 0, "Delay before intervention, minutes")
}

func (f *descriptorFlags) resolve(cmd *cobra.Command) (types.ConflictDescriptor, error) {
	var desc types.ConflictDescriptor
	if f.file != "" {
		data, err := readInput(cmd, f.file)
		if err != nil {
			return desc, err
		}
		if err := json.Unmarshal(data, &desc); err != nil {
			return desc, fmt.Errorf("failed to parse conflict descriptor: %w", err)
		}
	}

	changed := cmd.Flags().Changed
	if changed("type") {
		desc.ConflictType = types.ConflictType(f.conflictType)
	}
	if changed("severity") {
		desc.Severity = types.Severity(f.severity)
	}
	if changed("station") {
		desc.Station = f.station
	}
	if changed("tod") {
		desc.TimeOfDay = types.TimeOfDay(f.timeOfDay)
	}
	if changed("description") {
		desc.Description = f.description
	}
	if changed("delay") {
		desc.DelayBeforeMinutes = f.delay
	}
	return desc, nil
}

func (c *CLI) createRecommendCommand() *cobra.Command {
	var flags descriptorFlags
	cmd := &cobra.Command{
		Use:     "recommend",
		Aliases: []string{"rec"},
		Short:   "Rank resolution strategies for a conflict",
		Example: `  advisor recommend -t signal_failure -s high --station Central --tod morning_peak
  advisor recommend -f conflict.json -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			container, err := c.services(cmd)
			if err != nil {
				return err
			}
			result, err := container.Service.Recommend(cmd.Context(), desc)
			if err != nil {
				return err
			}
			return c.formatter(cmd).Recommendations(result)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) createSimulateCommand() *cobra.Command {
	var flags descriptorFlags
	cmd := &cobra.Command{
		Use:     "simulate",
		Aliases: []string{"sim"},
		Short:   "Run the rule-based simulation for every strategy",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			container, err := c.services(cmd)
			if err != nil {
				return err
			}
			predictions, err := container.Service.Simulate(cmd.Context(), desc)
			if err != nil {
				return err
			}
			return c.formatter(cmd).Predictions(predictions)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) createFeedbackCommand() *cobra.Command {
	var (
		req      types.FeedbackRequest
		strategy string
		result   string
	)
	cmd := &cobra.Command{
		Use:     "feedback <recommendation-id>",
		Aliases: []string{"fb"},
		Short:   "Report the outcome of an executed strategy",
		Long: `Report the outcome of a strategy executed for an earlier recommendation.

The recommendation must still be in the recommendation log. With the memory
log this means the same process; configure storage.log_backend: redis to
report across invocations.`,
		Example: `  advisor feedback 6f1c... --strategy reroute --result success --delay-reduction 9 --golden`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch result {
			case "success":
				req.ActualSuccess = true
			case "failure":
				req.ActualSuccess = false
			default:
				return fmt.Errorf("--result must be success or failure")
			}
			req.RecommendationID = args[0]
			req.Strategy = types.Strategy(strategy)

			container, err := c.services(cmd)
			if err != nil {
				return err
			}
			out, err := container.Service.SubmitFeedback(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.formatter(cmd).Feedback(out)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Strategy that was executed")
	cmd.Flags().StringVar(&result, "result", "", "Outcome: success or failure")
	cmd.Flags().Float64Var(&req.ActualDelayReductionMinutes, "delay-reduction", 0, "Observed delay reduction, minutes")
	cmd.Flags().BoolVar(&req.IsGoldenRun, "golden", false, "Mark as a golden run")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Free text notes")
	_ = cmd.MarkFlagRequired("strategy")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func (c *CLI) createEffectivenessCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "effectiveness",
		Aliases: []string{"eff"},
		Short:   "Show the learned effectiveness table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.services(cmd)
			if err != nil {
				return err
			}
			rows, err := container.Service.Effectiveness(cmd.Context())
			if err != nil {
				return err
			}
			return c.formatter(cmd).Effectiveness(rows, !all)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include pairs still at their rule base")
	return cmd
}

// importReport is the outcome of a case import
type importReport struct {
	Imported []string       `json:"imported"`
	Failed   []importFailed `json:"failed,omitempty"`
}

type importFailed struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func (c *CLI) createCasesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Manage the historical case store",
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import historical conflicts with their attempts",
		Long: `Import historical conflicts from a JSON array or JSON lines file (- for stdin).

Each entry has a conflict descriptor, its strategy attempts and an optional
created_at. Invalid entries are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			cases, err := decodeHistoricalCases(data)
			if err != nil {
				return err
			}
			container, err := c.services(cmd)
			if err != nil {
				return err
			}

			report := importReport{Imported: []string{}}
			for i, hc := range cases {
				id, err := container.Service.ImportCase(cmd.Context(), hc)
				if err != nil {
					if ctxErr := cmd.Context().Err(); ctxErr != nil {
						return ctxErr
					}
					report.Failed = append(report.Failed, importFailed{Index: i, Error: err.Error()})
					continue
				}
				report.Imported = append(report.Imported, id)
			}

			if format, _ := output.ParseFormat(c.outputFormat); format == output.FormatJSON {
				if err := c.formatter(cmd).JSON(report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Imported %d of %d cases\n", len(report.Imported), len(cases))
				for _, f := range report.Failed {
					_, _ = fmt.Fprintf(out, "  #%d: %s\n", f.Index, f.Error)
				}
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d cases failed to import", len(report.Failed))
			}
			return nil
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}

// decodeHistoricalCases accepts a JSON array or a stream of JSON objects
func decodeHistoricalCases(data []byte) ([]advisor.HistoricalCase, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no cases to import")
	}
	if trimmed[0] == '[' {
		var cases []advisor.HistoricalCase
		if err := json.Unmarshal(trimmed, &cases); err != nil {
			return nil, fmt.Errorf("failed to parse cases: %w", err)
		}
		return cases, nil
	}

	var cases []advisor.HistoricalCase
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var hc advisor.HistoricalCase
		err := dec.Decode(&hc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse case %d: %w", len(cases), err)
		}
		cases = append(cases, hc)
	}
	return cases, nil
}

func (c *CLI) createRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the simulation rule table",
	}

	var standalone bool
	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a rules file",
		Long: `Validate a rules file laid over the built-in table, or the built-in
table itself when no file is given. With --standalone the file must define
the complete table on its own.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rules *simulation.RuleSet
				err   error
			)
			switch {
			case len(args) == 0:
				rules, err = simulation.DefaultRules()
			default:
				var data []byte
				data, err = readInput(cmd, args[0])
				if err != nil {
					return err
				}
				if standalone {
					rules, err = simulation.ParseRuleTable(data)
				} else {
					rules, err = simulation.ParseRules(data)
				}
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Rule table OK: %d pairs\n", rules.Len())
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&standalone, "standalone", false, "Validate the file as a complete table")

	cmd.AddCommand(validateCmd)
	return cmd
}

func (c *CLI) createConsoleCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:     "console",
		Aliases: []string{"repl"},
		Short:   "Start an interactive advisor console",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.services(cmd)
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           container.Recorder.Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						container.Logger.Error("Metrics listener failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			console := repl.NewREPL(container.Service, container.Logger,
				cmd.InOrStdin(), cmd.OutOrStdout(), c.useColor(cmd.OutOrStdout()))
			return console.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the console runs")
	return cmd
}
