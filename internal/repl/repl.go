// Package repl provides an interactive console over the advisor. State lives
// as long as the session, so recommendations issued in the console can take
// feedback without any external backend.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"rail-conflict-advisor/internal/advisor"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/output"
)

// Session represents an interactive console session
type Session struct {
	ID                 string
	History            []Command
	LastRecommendation string
	Recommendations    int
	Feedback           int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	mu                 sync.RWMutex
}

// Command represents a command executed in the session
type Command struct {
	Input     string
	Error     error
	Timestamp time.Time
}

// REPL represents the Read-Eval-Print Loop interface
type REPL struct {
	session     *Session
	service     *advisor.Service
	formatter   *output.Formatter
	logger      logging.Logger
	input       io.Reader
	output      io.Writer
	colorOutput bool
	promptColor *color.Color
	errorColor  *color.Color
	infoColor   *color.Color
}

// NewREPL creates a console reading from in and writing to out
func NewREPL(service *advisor.Service, logger logging.Logger, in io.Reader, out io.Writer, useColor bool) *REPL {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	now := time.Now()
	r := &REPL{
		session: &Session{
			ID:        uuid.New().String(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		service:     service,
		formatter:   output.NewFormatter(out, output.FormatTable, useColor),
		logger:      logger.WithComponent("console"),
		input:       in,
		output:      out,
		colorOutput: useColor,
		promptColor: color.New(color.FgCyan, color.Bold),
		errorColor:  color.New(color.FgRed),
		infoColor:   color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{r.promptColor, r.errorColor, r.infoColor} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Session returns the current session
func (r *REPL) Session() *Session { return r.session }

// Start runs the loop until EOF, :quit or ctx is done
func (r *REPL) Start(ctx context.Context) error {
	r.printWelcome()

	scanner := bufio.NewScanner(r.input)
	for {
		if ctx.Err() != nil {
			return r.shutdown()
		}
		r.showPrompt()

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("input error: %w", err)
			}
			return r.shutdown()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" || strings.HasPrefix(input, "#") {
			continue
		}

		if err := r.processCommand(ctx, input); err != nil {
			if err == io.EOF {
				return r.shutdown()
			}
			r.printError(fmt.Sprintf("Error: %v", err))
		}
	}
}

// processCommand processes a single command
func (r *REPL) processCommand(ctx context.Context, input string) error {
	cmd := Command{Input: input, Timestamp: time.Now()}

	var err error
	if strings.HasPrefix(input, ":") {
		err = r.handleSpecialCommand(input)
	} else {
		err = r.handleCommand(ctx, input)
	}

	cmd.Error = err
	if err != io.EOF {
		r.addToHistory(cmd)
	}
	return err
}

// handleSpecialCommand handles console commands starting with ":"
func (r *REPL) handleSpecialCommand(input string) error {
	parts := strings.Fields(input)
	switch parts[0] {
	case ":help", ":h":
		r.printHelp()
		return nil
	case ":quit", ":q", ":exit":
		return io.EOF
	case ":history", ":hist":
		r.printHistory()
		return nil
	case ":status":
		r.printStatus()
		return nil
	case ":clear":
		_, _ = fmt.Fprint(r.output, "\033[2J\033[H")
		return nil
	default:
		return fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (r *REPL) printWelcome() {
	r.printInfo("Rail conflict advisor console. Type :help for available commands")
}

func (r *REPL) printHelp() {
	help := `
Advisor Commands:
  recommend type=<conflict_type> severity=<low|medium|high> station=<name> tod=<time_of_day>
            [delay=<minutes>] [desc="<text>"]
  simulate  (same fields as recommend)
  feedback  [rec=<id>|last] strategy=<strategy> result=<success|failure>
            [delay=<minutes>] [golden] [notes="<text>"]
  effectiveness [all]

Console Commands:
  :help, :h      - Show this help
  :quit, :q      - Exit
  :history       - Show command history
  :status        - Show session status
  :clear         - Clear screen
`
	_, _ = fmt.Fprint(r.output, help)
}

func (r *REPL) showPrompt() {
	_, _ = r.promptColor.Fprint(r.output, "advisor> ")
}

func (r *REPL) printError(message string) {
	_, _ = r.errorColor.Fprintln(r.output, message)
}

func (r *REPL) printInfo(message string) {
	_, _ = r.infoColor.Fprintln(r.output, message)
}

func (r *REPL) printHistory() {
	r.session.mu.RLock()
	defer r.session.mu.RUnlock()

	r.printInfo("Command History:")
	for i, cmd := range r.session.History {
		status := "ok"
		if cmd.Error != nil {
			status = "error"
		}
		_, _ = fmt.Fprintf(r.output, "%3d | %s | %-5s | %s\n", i+1, cmd.Timestamp.Format("15:04:05"), status, cmd.Input)
	}
}

func (r *REPL) printStatus() {
	r.session.mu.RLock()
	defer r.session.mu.RUnlock()

	last := r.session.LastRecommendation
	if last == "" {
		last = "-"
	}
	r.printInfo(fmt.Sprintf(`Session Status:
  ID:              %s
  Started:         %s
  Duration:        %s
  Commands:        %d
  Recommendations: %d
  Feedback:        %d
  Last:            %s`,
		r.session.ID,
		r.session.CreatedAt.Format("15:04:05"),
		time.Since(r.session.CreatedAt).Round(time.Second),
		len(r.session.History),
		r.session.Recommendations,
		r.session.Feedback,
		last,
	))
}

func (r *REPL) addToHistory(cmd Command) {
	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	r.session.History = append(r.session.History, cmd)
	r.session.UpdatedAt = time.Now()
}

func (r *REPL) shutdown() error {
	r.printInfo("Shutting down...")
	r.logger.Debug("Console session ended", "session_id", r.session.ID, "commands", len(r.session.History))
	return nil
}
