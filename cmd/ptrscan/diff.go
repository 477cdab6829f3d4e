package main

import (
	"os"

	"ptrscan/chain"
	"ptrscan/chain_store"

	"github.com/spf13/cobra"
)

var diffOutput string

func init() {
	cmd := &cobra.Command{
		Use:   "diff <chains1> <chains2>",
		Short: "Keep the chains present in both scans",
		Long: `The diff command intersects two scans of the same value taken in
different runs. Chains surviving several runs are the stable ones. Both
binary scan-result files and text files are accepted.

Example:
  ptrscan diff run1.chains run2.chains -o stable.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := chain_store.LoadAny(args[0])
			if err != nil {
				return err
			}
			b, err := chain_store.LoadAny(args[1])
			if err != nil {
				return err
			}
			common := chain_store.Intersect(a, b)
			printVerbose("%d and %d chains, %d in common\n", len(a), len(b), len(common))
			return writeChains(diffOutput, common)
		},
	}
	cmd.Flags().StringVarP(&diffOutput, "output", "o", "", "Text file to write (default stdout)")
	rootCmd.AddCommand(cmd)
}

// writeChains writes chains as text to path, or stdout when path is empty.
func writeChains(path string, chains []chain.Chain) error {
	if path == "" {
		return chain_store.WriteText(os.Stdout, chains)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := chain_store.WriteText(f, chains); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printInfo("wrote %d chains to %s\n", len(chains), path)
	return nil
}
