package search

import (
	"errors"
	"fmt"

	"ptrscan/process"
)

var (
	// ErrInvalidParams is returned before any work starts when a limit is not positive.
	ErrInvalidParams = errors.New("invalid search parameters")

	// ErrOutputUnwritable is returned when chains cannot be written out.
	ErrOutputUnwritable = errors.New("output unwritable")
)

// Params bounds a chain search.
type Params struct {
	Target      process.ProcessMemoryAddress
	MaxDepth    int   // most dereferences a chain may take
	MaxOffset   int64 // largest |offset| tolerated at each hop
	ThreadCount int
	NodeBudget  int // candidates kept per level; zero keeps none
	OutputPath  string
}

// Validate rejects non-positive depth, offset and thread limits and a
// negative node budget.
func (p Params) Validate() error {
	switch {
	case p.MaxDepth <= 0:
		return fmt.Errorf("%w: max depth %d", ErrInvalidParams, p.MaxDepth)
	case p.MaxOffset <= 0:
		return fmt.Errorf("%w: max offset %d", ErrInvalidParams, p.MaxOffset)
	case p.ThreadCount <= 0:
		return fmt.Errorf("%w: thread count %d", ErrInvalidParams, p.ThreadCount)
	case p.NodeBudget < 0:
		return fmt.Errorf("%w: node budget %d", ErrInvalidParams, p.NodeBudget)
	}
	return nil
}

// Outcome tells a finished search from a cancelled one.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stats counts the work a search did.
type Stats struct {
	Levels    int   // levels fully expanded
	Expanded  int64 // candidates considered, path cycles included
	Truncated int64 // candidates dropped by the node budget
	Chains    int64 // chains handed to the sink
}

// Result is returned by every search that did not fail.
type Result struct {
	Outcome Outcome
	Stats   Stats
}
