package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"ptrscan/config"
	"ptrscan/process"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool

	settings = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "ptrscan",
	Short: "Find static pointer chains to a dynamic address",
	Long: `ptrscan captures the readable memory of a process, indexes every
pointer in it and searches backward from a target address for chains of
offsets that start inside a loaded module.

Typical session:
  ptrscan dump --name game -o game.idx
  ptrscan scan game.idx --module game --target 0x55d0c0de1000 -o run1.chains
  ptrscan verify run1.chains --name game --target 0x55e1aa201000 -o stable.txt`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.ReadFile(settings, cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ptrscan/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig binds the command's flags over the file and environment
// layers and resolves the result.
func loadConfig(fs *pflag.FlagSet, bindings map[string]string) (config.Config, error) {
	if err := config.BindFlags(settings, fs, bindings); err != nil {
		return config.Config{}, err
	}
	return config.Load(settings)
}

// interruptible returns a context cancelled by Ctrl-C.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// parseAddress accepts 0x-prefixed hex or decimal.
func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return process.ProcessMemoryAddress(v), nil
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}
