// Package cli implements the advisor command line
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"rail-conflict-advisor/internal/config"
	"rail-conflict-advisor/internal/di"
	"rail-conflict-advisor/internal/output"
)

// Version is stamped at build time
var Version = "0.1.0"

// CLI represents the command line interface
type CLI struct {
	RootCmd *cobra.Command

	configPath   string
	outputFormat string
	noColor      bool

	container *di.Container
}

// NewCLI creates the root command with every subcommand attached
func NewCLI() *CLI {
	c := &CLI{}
	c.setupRootCommand()
	c.setupCommands()
	return c
}

func (c *CLI) setupRootCommand() {
	c.RootCmd = &cobra.Command{
		Use:   "advisor",
		Short: "Rail conflict recommendation and simulation engine",
		Long: `advisor ranks resolution strategies for rail operational conflicts.

Each recommendation fuses outcomes of similar historical conflicts with a
rule-based simulation of every strategy. Operator feedback on executed
strategies updates the learned effectiveness table and the case history.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := output.ParseFormat(c.outputFormat); err != nil {
				return err
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	c.RootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"Path to a YAML configuration file")
	c.RootCmd.PersistentFlags().StringVarP(&c.outputFormat, "output", "o", "table",
		"Output format (table, json)")
	c.RootCmd.PersistentFlags().BoolVar(&c.noColor, "no-color", false,
		"Disable colored output")
}

func (c *CLI) setupCommands() {
	c.RootCmd.AddCommand(
		c.createRecommendCommand(),
		c.createSimulateCommand(),
		c.createFeedbackCommand(),
		c.createEffectivenessCommand(),
		c.createCasesCommand(),
		c.createRulesCommand(),
		c.createConsoleCommand(),
	)
}

// Execute runs the CLI and releases whatever the command opened
func (c *CLI) Execute(ctx context.Context) error {
	err := c.RootCmd.ExecuteContext(ctx)
	if c.container != nil {
		if cerr := c.container.Close(); cerr != nil && err == nil {
			err = cerr
		}
		c.container = nil
	}
	return err
}

// services loads the configuration and builds the container on first use
func (c *CLI) services(cmd *cobra.Command) (*di.Container, error) {
	if c.container != nil {
		return c.container, nil
	}
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return nil, err
	}
	container, err := di.NewContainer(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	c.container = container
	return container, nil
}

func (c *CLI) formatter(cmd *cobra.Command) *output.Formatter {
	format, _ := output.ParseFormat(c.outputFormat)
	return output.NewFormatter(cmd.OutOrStdout(), format, c.useColor(cmd.OutOrStdout()))
}

// useColor is true for terminals unless --no-color or NO_COLOR is set
func (c *CLI) useColor(w io.Writer) bool {
	if c.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// readInput reads path, or stdin when path is "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
