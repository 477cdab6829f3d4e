//go:build linux

package main

import (
	"ptrscan/process"
	"ptrscan/process_linux"
)

func openProcess(pid int, name string) (process.Process, error) {
	var (
		p   *process_linux.LinuxProcess
		err error
	)
	if name != "" {
		p, err = process_linux.OpenProcessByName(name)
	} else {
		p, err = process_linux.NewWithPID(process.ProcessID(pid))
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
