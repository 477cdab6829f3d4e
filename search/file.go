package search

import (
	"context"
	"fmt"

	"ptrscan/chain_store"
	"ptrscan/pointer_index"
	"ptrscan/process"

	"github.com/google/uuid"
)

// SearchToFile runs Search and streams the chains into a scan-result file at
// params.OutputPath. Chains flushed before a failure or cancellation stay
// readable.
func SearchToFile(ctx context.Context, idx *pointer_index.PointerIndex, snapshotID uuid.UUID, module process.Module, params Params, options ...Option) (Result, error) {
	if _, err := configure(module, params, options); err != nil {
		return Result{}, err
	}
	if params.OutputPath == "" {
		return Result{}, fmt.Errorf("%w: no output path", ErrInvalidParams)
	}

	w, err := chain_store.CreateChainFile(params.OutputPath, chain_store.ChainHeader{
		PointerSize: idx.PointerSize(),
		SnapshotID:  snapshotID,
		Target:      params.Target,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}

	res, err := Search(ctx, idx, module, params, w, options...)
	cerr := w.Close()
	if err != nil {
		return res, err
	}
	if cerr != nil {
		return res, fmt.Errorf("%w: %w", ErrOutputUnwritable, cerr)
	}
	return res, nil
}
