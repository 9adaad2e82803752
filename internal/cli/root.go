package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/sca/pkg/types"
)

// Version of the binary.
const Version = "0.3.0"

// CLI holds the shared state of one invocation.
type CLI struct {
	stdout io.Writer
	stderr io.Writer

	codebase string
	output   string
	agent    bool
	verbose  bool

	printer *Printer
	logger  *slog.Logger
	exit    int
}

// New creates the CLI bound to the given streams.
func New(stdout, stderr io.Writer) *CLI {
	return &CLI{stdout: stdout, stderr: stderr}
}

// Execute parses arguments, runs the selected command, and returns the
// process exit code.
func (c *CLI) Execute(args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(c.stderr)
	root.SetErr(c.stderr)

	if err := root.Execute(); err != nil {
		// Flag parse and usage failures.
		if c.printer == nil {
			c.setup()
		}
		return c.printer.Failure(types.Expected(types.CodeInvalidValue, err.Error()))
	}
	return c.exit
}

func (c *CLI) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sca",
		Short:         "Local-first semantic code search",
		Long:          "sca indexes a source tree into a local vector index and answers natural-language queries by nearest-neighbor search.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.codebase, "codebase", ".", "codebase root directory")
	flags.StringVarP(&c.output, "output", "o", string(OutputText), "output mode: text|json|ndjson")
	flags.BoolVar(&c.agent, "agent", false, "agent mode: force ndjson and suppress progress")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		c.initCmd(),
		c.indexCmd(),
		c.searchCmd(),
		c.reindexCmd(),
		c.clearCmd(),
		c.statusCmd(),
		c.jobsCmd(),
		c.configCmd(),
		c.infoCmd(),
	)
	return root
}

// setup resolves the output mode and the stderr logger.
func (c *CLI) setup() {
	mode := OutputMode(c.output)
	switch mode {
	case OutputText, OutputJSON, OutputNDJSON:
	default:
		mode = OutputText
	}
	if c.agent {
		mode = OutputNDJSON
	}
	c.printer = NewPrinter(mode, c.stdout, c.stderr)

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
}

// codebaseRoot resolves the --codebase flag to an absolute path.
func (c *CLI) codebaseRoot() (string, *types.ErrorEnvelope) {
	abs, err := filepath.Abs(c.codebase)
	if err != nil {
		return "", types.AsEnvelope(err)
	}
	return abs, nil
}

// requestContext builds the command-scoped request context, cancelled on
// SIGINT/SIGTERM. It applies no timeout; commands that need the configured
// timeout derive one with WithTimeout.
func (c *CLI) requestContext(cmd *cobra.Command) (*types.RequestContext, func()) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, stop := signal.NotifyContext(base, os.Interrupt, syscall.SIGTERM)
	rc := types.NewRequestContext(ctx)
	return rc, stop
}

// fail records the error and its exit code.
func (c *CLI) fail(envErr *types.ErrorEnvelope) {
	c.exit = c.printer.Failure(envErr)
}

// progressPrinter returns a pipeline progress callback for interactive text
// mode, or nil in machine and agent modes.
func (c *CLI) progressPrinter() func(phase string, current, total int) {
	if c.printer.Mode() != OutputText || c.agent {
		return nil
	}
	return func(phase string, current, total int) {
		if total > 0 {
			percent := current * 100 / total
			_, _ = io.WriteString(c.stderr, "\r"+phase+": "+strconv.Itoa(percent)+"%")
			if current >= total {
				_, _ = io.WriteString(c.stderr, "\n")
			}
		}
	}
}
