package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"ptrscan/chain_store"
	"ptrscan/process"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var modulesTarget processFlags

func init() {
	cmd := &cobra.Command{
		Use:   "modules [index]",
		Short: "List the modules of an index file or a live process",
		Long: `The modules command prints the module table chains are anchored to.

Example:
  ptrscan modules game.idx
  ptrscan modules --name game`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modules, err := listModules(args)
			if err != nil {
				return err
			}
			printModules(modules)
			return nil
		},
	}
	modulesTarget.register(cmd.Flags())
	rootCmd.AddCommand(cmd)
}

func listModules(args []string) ([]process.Module, error) {
	if len(args) == 1 {
		snap, _, err := chain_store.LoadIndex(args[0])
		if err != nil {
			return nil, err
		}
		return snap.Modules(), nil
	}

	proc, err := modulesTarget.open()
	if err != nil {
		return nil, err
	}
	defer proc.Close()
	return proc.EnumerateModules()
}

func printModules(modules []process.Module) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tSIZE\tNAME")
	for _, m := range modules {
		fmt.Fprintf(w, "%016x\t%016x\t%s\t%s\n", uint64(m.Start), uint64(m.End), humanize.Bytes(uint64(m.Range().Size())), m.Name)
	}
	w.Flush()
}
