// Package cli implements the bytevm command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fortiblox/bytevm/internal/version"
	"github.com/fortiblox/bytevm/pkg/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitHalted  = 0
	ExitFailure = 1
	ExitFault   = 2
)

// ExitError carries a process exit code. A nil Err means the command has
// already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

// Error implements error.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// app holds state shared by all commands.
type app struct {
	cfg *config.Config

	// Persistent flags
	configPath string
	dataDir    string
	logLevel   string
	verbose    bool
}

// NewRootCommand builds the bytevm command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "bytevm",
		Short: "A stack-based bytecode virtual machine.",
		Long: `bytevm runs programs for a small stack machine with 32-bit integer
values, and provides an assembler, a program library, a run journal and
JSON-RPC/gRPC servers.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "configuration file (default: nearest "+config.FileName+")")
	pf.StringVar(&a.dataDir, "data-dir", "", "data directory for the program store and journal")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "increase logging verbosity")

	root.AddCommand(
		newRunCommand(a),
		newAsmCommand(a),
		newDisasmCommand(a),
		newStoreCommand(a),
		newRunsCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
	)

	return root
}

// loadConfig resolves the configuration file and applies flag overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return err
	}

	if a.dataDir != "" {
		cfg.Store.DataDir = a.dataDir
		cfg.Store.InMemory = false
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.verbose {
		cfg.Log.Level = log.DebugLevel.String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.SetOutput(cmd.ErrOrStderr())
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args against a fresh command tree.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitHalted
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintf(stderr, "bytevm: %v\n", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintf(stderr, "bytevm: %v\n", err)
	return ExitFailure
}
