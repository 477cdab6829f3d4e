//go:build linux

package process_linux

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"ptrscan/process"
)

// LinuxProcessFinder implements the process.ProcessFinder interface
type LinuxProcessFinder struct{}

// NewProcessFinder creates a new LinuxProcessFinder
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

// OpenProcessByName opens the first live process whose comm equals name.
func OpenProcessByName(name string) (*LinuxProcess, error) {
	processes, err := NewProcessFinder().FindProcessByName(name)
	if err != nil {
		return nil, err
	}

	for _, info := range processes {
		if !info.State.Readable() {
			continue
		}
		return NewWithPID(info.PID)
	}

	return nil, fmt.Errorf("no process found with name '%s': %w", name, process.ErrNoSuchProcess)
}

// FindProcessByPID finds a process by its PID
func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("pid %d: %w", pid, process.ErrNoSuchProcess)
	}

	return getProcessInfo(pid)
}

// FindProcessByName finds processes by their name (exact match)
func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern("^" + regexp.QuoteMeta(name) + "$")
}

// FindProcessByNamePattern finds processes by their name (pattern match)
func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	return findProcessesByNamePattern(pattern)
}

func findProcessesByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var results []process.ProcessInfo

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// Process may have terminated while we were reading
			continue
		}

		if re.MatchString(info.Name) {
			results = append(results, *info)
		}
	}

	return results, nil
}

func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	nameBytes, err := os.ReadFile(filepath.Join(procPath, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	// Kernel threads have no exe link
	exe, _ := os.Readlink(filepath.Join(procPath, "exe"))

	cmdlineBytes, err := os.ReadFile(filepath.Join(procPath, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process cmdline: %w", err)
	}

	info := &process.ProcessInfo{
		PID:     pid,
		Name:    strings.TrimSpace(string(nameBytes)),
		Exe:     exe,
		Cmdline: splitCmdline(cmdlineBytes),
	}

	statusBytes, err := os.ReadFile(filepath.Join(procPath, "status"))
	if err == nil {
		parseStatus(string(statusBytes), info)
	}

	return info, nil
}

func splitCmdline(raw []byte) []string {
	raw = bytes.TrimSuffix(raw, []byte{0})
	if len(raw) == 0 {
		return nil
	}

	var cmdline []string
	for _, arg := range bytes.Split(raw, []byte{0}) {
		cmdline = append(cmdline, string(arg))
	}
	return cmdline
}

// parseStatus fills the fields of info that /proc/<pid>/status carries.
func parseStatus(status string, info *process.ProcessInfo) {
	for _, line := range strings.Split(status, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "PPid":
			if v, err := strconv.Atoi(value); err == nil {
				info.PPID = process.ProcessID(v)
			}
		case "State":
			if len(value) > 0 {
				info.State = process.ProcessState(value[0:1])
			}
		case "Threads":
			if v, err := strconv.Atoi(value); err == nil {
				info.Threads = v
			}
		case "VmRSS":
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			if v, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
				if len(fields) > 1 && fields[1] == "kB" {
					v *= 1024
				}
				info.Memory = v
			}
		}
	}
}
