package main

import (
	"errors"

	"ptrscan/process"

	"github.com/spf13/pflag"
)

// processFlags selects a live process by --pid or --name.
type processFlags struct {
	pid  int
	name string
}

func (f *processFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.pid, "pid", 0, "Process ID to read")
	fs.StringVar(&f.name, "name", "", "Process name to read (first live match)")
}

func (f *processFlags) set() bool {
	return f.pid != 0 || f.name != ""
}

func (f *processFlags) open() (process.Process, error) {
	if !f.set() {
		return nil, errors.New("one of --pid or --name is required")
	}
	return openProcess(f.pid, f.name)
}
