package main

import (
	"errors"

	"ptrscan/chain"
	"ptrscan/chain_store"
	"ptrscan/process"

	"github.com/spf13/cobra"
)

var (
	verifyTarget    string
	verifyProcess   processFlags
	verifyIndex     string
	verifyOutput    string
	verifyCacheSize int
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify <chains>",
		Short: "Keep the chains that still reach the target in another run",
		Long: `The verify command relocates every chain to the module of the same
name in a fresh run, dereferences it and keeps the chains that land on the
new target address. The run is a live process or an index file.

Example:
  ptrscan verify run1.chains --name game --target 0x55e1aa201000 -o stable.txt
  ptrscan verify run1.chains --index run2.idx --target 0x7f01a0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verifyTarget == "" {
				return errors.New("--target is required")
			}
			target, err := parseAddress(verifyTarget)
			if err != nil {
				return err
			}

			chains, err := chain_store.LoadAny(args[0])
			if err != nil {
				return err
			}

			reader, modules, done, err := verifySource()
			if err != nil {
				return err
			}
			defer done()

			cached, err := chain.NewCachedReader(reader, verifyCacheSize)
			if err != nil {
				return err
			}

			kept := filterResolving(cached, modules, chains, target)
			hits, misses := cached.Stats()
			printVerbose("%d of %d chains resolve, %d cached reads, %d misses\n", len(kept), len(chains), hits, misses)
			return writeChains(verifyOutput, kept)
		},
	}
	verifyProcess.register(cmd.Flags())
	cmd.Flags().StringVarP(&verifyTarget, "target", "t", "", "Address the chains must reach now")
	cmd.Flags().StringVar(&verifyIndex, "index", "", "Verify against an index file instead of a live process")
	cmd.Flags().StringVarP(&verifyOutput, "output", "o", "", "Text file to write (default stdout)")
	cmd.Flags().IntVar(&verifyCacheSize, "cache", 1<<16, "Pointer reads kept in the cache")
	rootCmd.AddCommand(cmd)
}

// verifySource opens the index file or process the chains are checked
// against.
func verifySource() (chain.PointerReader, []process.Module, func(), error) {
	if verifyIndex != "" {
		snap, _, err := chain_store.LoadIndex(verifyIndex)
		if err != nil {
			return nil, nil, nil, err
		}
		return snap, snap.Modules(), func() {}, nil
	}

	proc, err := verifyProcess.open()
	if err != nil {
		return nil, nil, nil, err
	}
	modules, err := proc.EnumerateModules()
	if err != nil {
		proc.Close()
		return nil, nil, nil, err
	}
	return proc, modules, func() { proc.Close() }, nil
}

// filterResolving returns the chains that, relocated to modules, dereference
// to target through r. Chains whose module is gone or whose path breaks are
// dropped.
func filterResolving(r chain.PointerReader, modules []process.Module, chains []chain.Chain, target process.ProcessMemoryAddress) []chain.Chain {
	var kept []chain.Chain
	for _, c := range chains {
		moved, err := chain.Rebase(c, modules)
		if err != nil {
			continue
		}
		got, err := chain.Resolve(r, moved)
		if err != nil || got != target {
			continue
		}
		kept = append(kept, moved)
	}
	return kept
}
