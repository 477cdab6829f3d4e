package main

import (
	"errors"

	"ptrscan/chain_store"
	"ptrscan/config"
	"ptrscan/pointer_index"
	"ptrscan/snapshot"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	dumpTarget processFlags
	dumpOutput string
)

func init() {
	cmd := newDumpCmd()
	dumpTarget.register(cmd.Flags())
	cmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Index file to write")
	cmd.Flags().Int("workers", 0, "Parallel region readers")
	cmd.Flags().String("max-region-size", "", "Skip regions larger than this (e.g. 256MB)")
	cmd.Flags().Int("pointer-size", 0, "Pointer width of the target, 4 or 8")
	cmd.Flags().Int("alignment", 0, "Pointer scan stride in bytes (default pointer size)")
	cmd.Flags().Int64("max-entries", 0, "Fail when the index exceeds this many pointers (0 = unlimited)")
	cmd.Flags().Bool("compress", true, "zstd-compress the index body")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Capture a process and save its pointer index",
		Long: `The dump command copies every readable region of a live process,
builds the pointer index over it and saves both to one file that scan,
inspect and verify can reuse.

Example:
  ptrscan dump --pid 4242 -o game.idx
  ptrscan dump --name game -o game.idx --max-region-size 512MB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dumpOutput == "" {
				return errors.New("--output is required")
			}
			cfg, err := loadConfig(cmd.Flags(), map[string]string{
				"snapshot.workers":         "workers",
				"snapshot.max_region_size": "max-region-size",
				"snapshot.pointer_size":    "pointer-size",
				"index.alignment":          "alignment",
				"index.max_entries":        "max-entries",
				"index.compress":           "compress",
			})
			if err != nil {
				return err
			}
			return runDump(cfg)
		},
	}
}

func runDump(cfg config.Config) error {
	proc, err := dumpTarget.open()
	if err != nil {
		return err
	}
	defer proc.Close()

	ctx, cancel := interruptible()
	defer cancel()

	printVerbose("capturing process %d\n", proc.GetPID())
	snap, err := snapshot.Capture(ctx, proc,
		snapshot.WithPointerSize(cfg.Snapshot.PointerSize),
		snapshot.WithMaxRegionSize(cfg.Snapshot.MaxRegionSize),
		snapshot.WithWorkers(cfg.Snapshot.Workers),
	)
	if err != nil {
		return err
	}

	indexOpts := []pointer_index.Option{pointer_index.WithWorkers(cfg.Snapshot.Workers)}
	if cfg.Index.Alignment > 0 {
		indexOpts = append(indexOpts, pointer_index.WithAlignment(cfg.Index.Alignment))
	}
	if cfg.Index.MaxEntries > 0 {
		indexOpts = append(indexOpts, pointer_index.WithMaxEntries(cfg.Index.MaxEntries))
	}
	idx, err := pointer_index.Build(ctx, snap, indexOpts...)
	if err != nil {
		return err
	}

	if err := chain_store.SaveIndex(dumpOutput, snap, idx, chain_store.WithCompression(cfg.Index.Compress)); err != nil {
		return err
	}

	stats := idx.Stats()
	printInfo("snapshot %s: %d regions (%s), %d modules, %s pointers -> %s\n",
		snap.ID, len(snap.Regions()), humanize.Bytes(snap.TotalBytes()), len(snap.Modules()),
		humanize.Comma(int64(stats.Entries)), dumpOutput)
	if snap.Skipped() > 0 {
		printInfo("%d regions could not be read and were skipped\n", snap.Skipped())
	}
	return nil
}
