//go:build !linux && !windows

package main

import (
	"fmt"
	"runtime"

	"ptrscan/process"
)

func openProcess(pid int, name string) (process.Process, error) {
	return nil, fmt.Errorf("live processes are not supported on %s: %w", runtime.GOOS, process.ErrNoSuchProcess)
}
