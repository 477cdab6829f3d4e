package main

import (
	"errors"

	"ptrscan/chain_store"

	"github.com/spf13/cobra"
)

var exportDB string

func init() {
	cmd := &cobra.Command{
		Use:   "export <chains>",
		Short: "Append a scan-result file to a SQLite database",
		Long: `The export command stores the chains of a scan-result file in a
SQLite database so several scans can be queried together.

Example:
  ptrscan export run1.chains --db scans.db
  sqlite3 scans.db 'SELECT chain FROM chains WHERE depth <= 3'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if exportDB == "" {
				return errors.New("--db is required")
			}
			hdr, chains, err := chain_store.LoadChains(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := interruptible()
			defer cancel()

			scanID, err := chain_store.ExportSQLite(ctx, exportDB, hdr, chains)
			if err != nil {
				return err
			}
			printInfo("scan %s: %d chains -> %s\n", scanID, len(chains), exportDB)
			return nil
		},
	}
	cmd.Flags().StringVar(&exportDB, "db", "", "SQLite database to write")
	rootCmd.AddCommand(cmd)
}
