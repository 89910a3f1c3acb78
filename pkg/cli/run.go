package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/pkg/executor"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/fortiblox/bytevm/pkg/remote"
	"github.com/fortiblox/bytevm/pkg/vm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	stack    int
	maxSteps uint64
	trace    bool
	record   bool
	hex      bool
	remote   string
}

func newRunCommand(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] <file|name|id>",
		Short: "Run a program.",
		Long: `Run a program from a file (.bin, .bvmz or assembler source), from the
program store by name or ID, or from a hex literal with --hex. Output is
written to stdout as it is produced.

Exit status is 0 when the program halts, 2 when it faults and 1 for any
other error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.stack, "stack", 0, "operand stack capacity (default from config)")
	flags.Uint64Var(&opts.maxSteps, "max-steps", 0, "step budget (default from config)")
	flags.BoolVar(&opts.trace, "trace", false, "log every instruction at trace level")
	flags.BoolVar(&opts.record, "record", false, "record the run in the journal")
	flags.BoolVar(&opts.hex, "hex", false, "treat the argument as hex-encoded bytecode")
	flags.StringVar(&opts.remote, "remote", "", "run on a gRPC server at this address")

	return cmd
}

func (a *app) run(cmd *cobra.Command, arg string, opts runOptions) error {
	req := executor.Request{
		StackCapacity: opts.stack,
		MaxSteps:      opts.maxSteps,
		Record:        opts.record,
		Output:        cmd.OutOrStdout(),
	}

	switch {
	case opts.hex:
		code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(arg), "0x"))
		if err != nil {
			return fmt.Errorf("invalid hex bytecode: %w", err)
		}
		req.Code = code
	case fileExists(arg):
		p, err := program.Load(arg)
		if err != nil {
			return err
		}
		req.Code = p.Code
	default:
		req.Ref = arg
	}

	if opts.remote != "" {
		return a.runRemote(cmd, req, opts.remote)
	}

	if opts.trace {
		log.SetLevel(log.TraceLevel)
		req.Tracer = traceInstruction
	}

	exec, release, err := a.openExecutor(req.Ref != "", req.Record || a.cfg.VM.RecordAll)
	if err != nil {
		return err
	}
	defer release()

	res, err := exec.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"program": res.ProgramID.Short(),
		"status":  res.Status,
		"steps":   humanize.Comma(int64(res.Steps)),
		"elapsed": res.Duration,
	}).Debug("run finished")
	if res.Seq != 0 {
		log.WithField("seq", res.Seq).Info("run recorded")
	}

	return finish(cmd, res.Status, res.Fault, "")
}

// runRemote executes req on a gRPC server. Output is written once the run
// completes.
func (a *app) runRemote(cmd *cobra.Command, req executor.Request, addr string) error {
	client, err := remote.Dial(remote.DefaultClientConfig(addr))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Execute(cmd.Context(), &remote.ExecuteRequest{
		Program:       req.Ref,
		Code:          req.Code,
		StackCapacity: req.StackCapacity,
		MaxSteps:      req.MaxSteps,
		Record:        req.Record,
	})
	if err != nil {
		return err
	}

	if _, err := cmd.OutOrStdout().Write(resp.Output); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"program": resp.ProgramID,
		"status":  resp.Status,
		"steps":   humanize.Comma(int64(resp.Steps)),
	}).Debug("remote run finished")

	var message string
	if resp.Fault != nil {
		message = resp.Fault.Message
	}
	return finish(cmd, journal.Status(resp.Status), resp.Fault.VMFault(), message)
}

// finish reports a fault and maps the run status to an exit code.
func finish(cmd *cobra.Command, status journal.Status, fault *vm.Fault, message string) error {
	if status != journal.StatusFaulted || fault == nil {
		return nil
	}
	if message == "" {
		message = fault.Error()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "fault: %s: %s\n", fault.Kind, message)
	return &ExitError{Code: ExitFault}
}

func traceInstruction(ev vm.TraceEvent) {
	entry := log.WithFields(log.Fields{
		"step":  ev.Step,
		"ip":    ev.IP,
		"depth": ev.Depth,
	})
	if ev.Op.Operands() > 0 {
		entry.Tracef("%s %d", ev.Op, ev.Operand)
		return
	}
	entry.Trace(ev.Op.String())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
