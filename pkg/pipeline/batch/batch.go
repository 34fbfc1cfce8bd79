// Package batch partitions rows into fixed-capacity batches.
package batch

import "github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"

// Partition splits rows into consecutive, non-overlapping batches of at most size
// rows, preserving order. A size <= 0 puts every row into a single batch.
func Partition(rows []core.Row, size int) []core.Batch {
	if len(rows) == 0 {
		return nil
	}
	if size <= 0 || size > len(rows) {
		size = len(rows)
	}
	out := make([]core.Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, core.Batch{
			Index: len(out),
			Rows:  rows[start:end:end],
		})
	}
	return out
}
