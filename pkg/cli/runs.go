package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/pkg/journal"
	"github.com/spf13/cobra"
)

type runsOptions struct {
	program string
	limit   int
	before  uint64
}

func newRunsCommand(a *app) *cobra.Command {
	var opts runsOptions

	cmd := &cobra.Command{
		Use:   "runs [flags] [seq]",
		Short: "Inspect the run journal.",
		Long: `List journaled runs, newest first, or show one run in detail when a
sequence number is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				seq, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid sequence number %q", args[0])
				}
				return a.showRun(cmd, seq)
			}
			return a.listRuns(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.program, "program", "", "only runs of this program (name or ID)")
	flags.IntVar(&opts.limit, "limit", 20, "maximum number of runs to list")
	flags.Uint64Var(&opts.before, "before", 0, "only runs with a smaller sequence number")

	return cmd
}

func (a *app) listRuns(cmd *cobra.Command, opts runsOptions) error {
	if opts.limit < 0 || opts.limit > journal.MaxListLimit {
		return fmt.Errorf("limit must be between 0 and %d", journal.MaxListLimit)
	}
	listOpts := journal.ListOptions{Limit: opts.limit, Before: opts.before}
	if opts.program != "" {
		id, err := a.resolveProgramID(opts.program)
		if err != nil {
			return err
		}
		listOpts.Program = &id
	}

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.List(listOpts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPROGRAM\tSTATUS\tSTEPS\tDURATION\tSTARTED")
	for _, r := range records {
		status := string(r.Status)
		if r.Fault != "" {
			status += " (" + r.Fault + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.ProgramID.Short(), status, humanize.Comma(int64(r.Steps)), r.Duration, humanize.Time(r.Started))
	}
	return w.Flush()
}

func (a *app) showRun(cmd *cobra.Command, seq uint64) error {
	j, err := a.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	r, err := j.Get(seq)
	if err != nil {
		return fmt.Errorf("run %d: %w", seq, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "seq:       %d\n", r.Seq)
	fmt.Fprintf(out, "program:   %s\n", r.ProgramID)
	fmt.Fprintf(out, "status:    %s\n", r.Status)
	if r.Status == journal.StatusFaulted {
		fmt.Fprintf(out, "fault:     %s at ip %d\n", r.Fault, r.FaultIP)
	}
	if r.Message != "" {
		fmt.Fprintf(out, "message:   %s\n", r.Message)
	}
	fmt.Fprintf(out, "steps:     %s\n", humanize.Comma(int64(r.Steps)))
	fmt.Fprintf(out, "stack:     %d\n", r.StackDepth)
	fmt.Fprintf(out, "started:   %s (%s)\n", r.Started.Format("2006-01-02 15:04:05"), humanize.Time(r.Started))
	fmt.Fprintf(out, "duration:  %s\n", r.Duration)
	if utf8.Valid(r.Output) {
		fmt.Fprintf(out, "output:    %q\n", r.Output)
	} else {
		fmt.Fprintf(out, "output:    %s\n", humanize.Bytes(uint64(len(r.Output))))
	}
	return nil
}
