package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fortiblox/bytevm/pkg/asm"
	"github.com/fortiblox/bytevm/pkg/program"
	"github.com/spf13/cobra"
)

func newAsmCommand(a *app) *cobra.Command {
	var (
		output string
		labels bool
	)

	cmd := &cobra.Command{
		Use:   "asm [flags] <source>",
		Short: "Assemble source into bytecode.",
		Long: `Assemble a source file. The output format follows the output file's
extension: .bvmz writes a compressed container, anything else raw bytecode.
Without -o the output is the source path with a .bin extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res, err := asm.Assemble(string(src))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			p, err := program.New(res.Code)
			if err != nil {
				return err
			}

			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".bin"
			}
			if err := program.Save(output, p); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s to %s (%s)\n", humanize.Bytes(uint64(p.Size())), output, p.ID())
			if labels {
				names := make([]string, 0, len(res.Labels))
				for name := range res.Labels {
					names = append(names, name)
				}
				sort.Slice(names, func(i, j int) bool { return res.Labels[names[i]] < res.Labels[names[j]] })
				for _, name := range names {
					fmt.Fprintf(out, "%04d  %s\n", res.Labels[name], name)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().BoolVar(&labels, "labels", false, "print the label table")
	return cmd
}

func newDisasmCommand(a *app) *cobra.Command {
	var source bool

	cmd := &cobra.Command{
		Use:   "disasm [flags] <file>",
		Short: "Disassemble bytecode.",
		Long: `Print an address-annotated listing of a program. With --source the
output is assembler text that reassembles to the same bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := program.Load(args[0])
			if err != nil {
				return err
			}
			if source {
				_, err := fmt.Fprint(cmd.OutOrStdout(), asm.Source(p.Code))
				return err
			}
			return asm.Format(cmd.OutOrStdout(), p.Code)
		},
	}

	cmd.Flags().BoolVar(&source, "source", false, "emit reassemblable source")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", a.cfg.Path)
			}
			return a.cfg.Write(cmd.OutOrStdout())
		},
	}
}
