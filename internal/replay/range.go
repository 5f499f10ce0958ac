package replay

import (
	"fmt"

	"ammEngine/internal/model"
)

// opBatch is a run of operations at 1-based file positions [from, to].
type opBatch struct {
	from uint64
	to   uint64
	ops  []model.Operation
}

// splitBatches cuts ops from position start onwards into batches of at most
// size operations. A start past the end yields no batches.
func splitBatches(ops []model.Operation, start, size uint64) ([]opBatch, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if start == 0 {
		return nil, fmt.Errorf("positions start at 1")
	}

	total := uint64(len(ops))
	if start > total {
		return nil, nil
	}

	batches := make([]opBatch, 0, (total-start)/size+1)
	for from := start; from <= total; from += size {
		to := min(from+size-1, total)
		batches = append(batches, opBatch{from: from, to: to, ops: ops[from-1 : to]})
	}
	return batches, nil
}
