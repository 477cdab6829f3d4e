// Package process provides the address types and the acquisition interface
// used to capture another process's memory.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrInvalidPointer is returned when a pointer read yields a null or unmapped value.
	ErrInvalidPointer = errors.New("invalid pointer read")

	// ErrAccessDenied is returned when the OS refuses to read the target's memory.
	ErrAccessDenied = errors.New("access denied")

	// ErrNoSuchProcess is returned when the target process no longer exists.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrProcessUnavailable marks any acquisition failure surfaced to callers
	// building a snapshot. It wraps the underlying cause.
	ErrProcessUnavailable = errors.New("process unavailable")
)
