package batch_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/batch"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

func rows(n int) []core.Row {
	out := make([]core.Row, n)
	for i := range out {
		out[i] = core.Row{ID: core.RowID(strconv.Itoa(i))}
	}
	return out
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{name: "empty", n: 0, size: 3, sizes: nil},
		{name: "exact multiple", n: 6, size: 3, sizes: []int{3, 3}},
		{name: "remainder", n: 7, size: 3, sizes: []int{3, 3, 1}},
		{name: "size one", n: 3, size: 1, sizes: []int{1, 1, 1}},
		{name: "size larger than input", n: 2, size: 50, sizes: []int{2}},
		{name: "non-positive size", n: 4, size: 0, sizes: []int{4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batch.Partition(rows(tt.n), tt.size)
			require.Len(t, got, len(tt.sizes))

			next := 0
			for i, b := range got {
				assert.Equal(t, i, b.Index)
				require.Len(t, b.Rows, tt.sizes[i])
				for _, r := range b.Rows {
					assert.Equal(t, core.RowID(strconv.Itoa(next)), r.ID)
					next++
				}
			}
			assert.Equal(t, tt.n, next)
		})
	}
}

func TestPartition_BatchesDoNotAlias(t *testing.T) {
	got := batch.Partition(rows(4), 2)
	require.Len(t, got, 2)

	first := append(got[0].Rows, core.Row{ID: "x"})
	assert.Equal(t, core.RowID("x"), first[2].ID)
	assert.Equal(t, core.RowID("2"), got[1].Rows[0].ID)
}
