package main

import (
	"ptrscan/chain_store"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "conv <chains> <text>",
		Short: "Convert a scan-result file to text, one chain per line",
		Long: `The conv command writes every chain of a binary scan-result file as
text ("module+0xbase->0xoff->...").

Example:
  ptrscan conv run1.chains run1.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := chain_store.ConvertToText(args[0], args[1])
			if err != nil {
				return err
			}
			printInfo("wrote %d chains to %s\n", n, args[1])
			return nil
		},
	})
}
