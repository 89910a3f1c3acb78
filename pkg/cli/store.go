package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/pkg/asm"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/spf13/cobra"
)

func newStoreCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the program library.",
	}
	cmd.AddCommand(
		newStorePutCommand(a),
		newStoreGetCommand(a),
		newStoreListCommand(a),
		newStoreRemoveCommand(a),
		newStoreStatsCommand(a),
	)
	return cmd
}

func newStorePutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <file>",
		Short: "Store a program under a name.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := program.Load(args[1])
			if err != nil {
				return err
			}
			if err := p.RequireNonEmpty(); err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entry, err := store.Put(args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", entry.Name, entry.ID, humanize.Bytes(uint64(entry.Size)))
			return nil
		},
	}
}

func newStoreGetCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get [flags] <name|id>",
		Short: "Fetch a stored program.",
		Long:  `Write a stored program to a file with -o, or print its listing.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			p, err := store.Resolve(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			if output != "" {
				if err := program.Save(output, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", humanize.Bytes(uint64(p.Size())), output)
				return nil
			}
			return asm.Format(cmd.OutOrStdout(), p.Code)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

func newStoreListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List stored programs.",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tSIZE\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.ID.Short(), humanize.Bytes(uint64(e.Size)), humanize.Time(e.Updated))
			}
			return w.Flush()
		},
	}
}

func newStoreRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Short:   "Remove a program name.",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(args[0]); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return nil
		},
	}
}

func newStoreStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show program library statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "names:     %s\n", humanize.Comma(int64(stats.Names)))
			fmt.Fprintf(out, "programs:  %s\n", humanize.Comma(int64(stats.Programs)))
			fmt.Fprintf(out, "code:      %s\n", humanize.Bytes(stats.CodeBytes))
			fmt.Fprintf(out, "puts:      %s\n", humanize.Comma(int64(stats.Puts)))
			if stats.DatabaseSize > 0 {
				fmt.Fprintf(out, "database:  %s\n", humanize.Bytes(uint64(stats.DatabaseSize)))
			}
			return nil
		},
	}
}
