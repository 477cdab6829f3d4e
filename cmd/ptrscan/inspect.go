package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ptrscan/chain_store"
	"ptrscan/hexdump"
	"ptrscan/process"

	"github.com/spf13/cobra"
)

var (
	inspectAddr      string
	inspectSize      uint
	inspectHighlight string
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect <index>",
		Short: "Hexdump captured memory around an address",
		Long: `The inspect command prints the captured bytes at an address of an
index file. Slots holding valid pointers are listed to the right of each
line, and --highlight marks every occurrence of a pointer value.

Example:
  ptrscan inspect game.idx --addr 0x55d0c0de0ff0 --size 64
  ptrscan inspect game.idx --addr 0x55d0c0de0ff0 --highlight 0x55d0c0de1000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inspectAddr == "" {
				return errors.New("--addr is required")
			}
			addr, err := parseAddress(inspectAddr)
			if err != nil {
				return err
			}

			snap, _, err := chain_store.LoadIndex(args[0])
			if err != nil {
				return err
			}

			opts := hexdump.DefaultOptions()
			opts.Plain = noColor
			if inspectHighlight != "" {
				v, err := parseAddress(inspectHighlight)
				if err != nil {
					return err
				}
				opts.HighlightPattern = binary.LittleEndian.AppendUint64(nil, uint64(v))[:snap.PointerSize()]
			}

			out, err := hexdump.DumpSnapshot(snap, addr, process.ProcessMemorySize(inspectSize), opts)
			if err != nil {
				return err
			}
			if m, ok := snap.ModuleContaining(addr); ok {
				printInfo("%s+0x%x\n", m.Name, uint64(addr-m.Start))
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&inspectAddr, "addr", "a", "", "Address to dump")
	cmd.Flags().UintVarP(&inspectSize, "size", "s", 256, "Bytes to dump")
	cmd.Flags().StringVar(&inspectHighlight, "highlight", "", "Pointer value to highlight")
	rootCmd.AddCommand(cmd)
}
