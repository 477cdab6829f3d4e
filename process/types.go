package process

// ProcessID represents a unique identifier for a process
type ProcessID int

// ProcessInfo contains basic information about a process
type ProcessInfo struct {
	PID     ProcessID    // Process ID
	PPID    ProcessID    // Parent Process ID
	Name    string       // Process name from /proc/[pid]/comm
	Exe     string       // Path to the executable
	Cmdline []string     // Command line arguments
	State   ProcessState // Process state (R, S, D, Z, etc.)
	Threads int          // Number of threads
	Memory  uint64       // Resident Set Size (memory usage in bytes)
}

// ProcessState is the one-letter scheduler state reported by the OS.
type ProcessState string

const (
	ProcessRunning  ProcessState = "R"
	ProcessSleeping ProcessState = "S"
	ProcessZombie   ProcessState = "Z"
	ProcessStopped  ProcessState = "T"
	ProcessDead     ProcessState = "X"
)

// Readable reports whether memory of a process in this state can still be read.
func (s ProcessState) Readable() bool {
	return s != ProcessZombie && s != ProcessDead
}
