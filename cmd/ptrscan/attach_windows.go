//go:build windows

package main

import (
	"errors"

	"ptrscan/process"
	"ptrscan/process_windows"
)

func openProcess(pid int, name string) (process.Process, error) {
	if name != "" {
		return nil, errors.New("lookup by name is not supported on windows, use --pid")
	}
	p, err := process_windows.NewWithPID(process.ProcessID(pid))
	if err != nil {
		return nil, err
	}
	return p, nil
}
