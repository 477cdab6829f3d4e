package main

import (
	"errors"
	"fmt"

	"ptrscan/chain_store"
	"ptrscan/search"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	scanTarget    string
	scanModule    string
	scanOutput    string
	scanWindowMin int64
	scanWindowMax int64
)

func init() {
	cmd := newScanCmd()
	cmd.Flags().StringVarP(&scanTarget, "target", "t", "", "Address the chains must reach (hex or decimal)")
	cmd.Flags().StringVarP(&scanModule, "module", "m", "", "Module the chains must start in")
	cmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Scan-result file to write")
	cmd.Flags().Int("depth", 0, "Most dereferences per chain")
	cmd.Flags().Int64("offset", 0, "Largest |offset| per hop")
	cmd.Flags().Int("threads", 0, "Search workers")
	cmd.Flags().Int("budget", 0, "Candidates kept per level")
	cmd.Flags().Int64Var(&scanWindowMin, "window-min", 0, "Smallest hop offset, overrides --offset with --window-max")
	cmd.Flags().Int64Var(&scanWindowMax, "window-max", 0, "Largest hop offset, overrides --offset with --window-min")
	rootCmd.AddCommand(cmd)
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <index>",
		Short: "Search an index for pointer chains to a target",
		Long: `The scan command searches backward from the target through the
pointer index and writes every chain that starts inside the module. Ctrl-C
stops the search; chains found before that stay in the output file.

Example:
  ptrscan scan game.idx -m game -t 0x55d0c0de1000 -o run1.chains
  ptrscan scan game.idx -m libgame.so -t 0x7f01a0 --depth 6 --offset 0x800
  ptrscan scan game.idx -m game -t 0x7f01a0 --window-min 0 --window-max 0x400 -o fwd.chains`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scanTarget == "" || scanModule == "" || scanOutput == "" {
				return errors.New("--target, --module and --output are required")
			}
			cfg, err := loadConfig(cmd.Flags(), map[string]string{
				"search.max_depth":   "depth",
				"search.max_offset":  "offset",
				"search.threads":     "threads",
				"search.node_budget": "budget",
			})
			if err != nil {
				return err
			}

			target, err := parseAddress(scanTarget)
			if err != nil {
				return err
			}

			snap, idx, err := chain_store.LoadIndex(args[0])
			if err != nil {
				return err
			}
			module, ok := snap.ModuleByName(scanModule)
			if !ok {
				return fmt.Errorf("module %q not in %s", scanModule, args[0])
			}

			params := search.Params{
				Target:      target,
				MaxDepth:    cfg.Search.MaxDepth,
				MaxOffset:   cfg.Search.MaxOffset,
				ThreadCount: cfg.Search.Threads,
				NodeBudget:  cfg.Search.NodeBudget,
				OutputPath:  scanOutput,
			}

			opts := []search.Option{search.WithLevelHook(func(level int, stats search.Stats) {
				printVerbose("level %d: %s candidates, %s dropped, %s chains\n", level,
					humanize.Comma(stats.Expanded), humanize.Comma(stats.Truncated), humanize.Comma(stats.Chains))
			})}
			if cmd.Flags().Changed("window-min") || cmd.Flags().Changed("window-max") {
				opts = append(opts, search.WithOffsetWindow(scanWindowMin, scanWindowMax))
			}

			ctx, cancel := interruptible()
			defer cancel()

			res, err := search.SearchToFile(ctx, idx, snap.ID, module, params, opts...)
			if err != nil {
				return err
			}
			printInfo("%s: %s chains in %d levels -> %s\n", res.Outcome,
				humanize.Comma(res.Stats.Chains), res.Stats.Levels, scanOutput)
			return nil
		},
	}
}
