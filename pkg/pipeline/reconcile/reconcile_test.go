package reconcile_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/reconcile"
)

func batchOf(ids ...string) core.Batch {
	b := core.Batch{}
	for _, id := range ids {
		b.Rows = append(b.Rows, core.Row{ID: core.RowID(id)})
	}
	return b
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare", in: ` [{"a":1}] `, want: `[{"a":1}]`},
		{name: "json fence", in: "```json\n[{\"a\":1}]\n```", want: `[{"a":1}]`},
		{name: "plain fence", in: "```\n[]\n```\n", want: `[]`},
		{name: "inline fence", in: "```[1]```", want: `[1]`},
		{name: "fence without body", in: "```json", want: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.StripFences(tt.in))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "not json", in: "Sure! Here are your rows.", want: core.ErrResponseParse},
		{name: "truncated", in: `[{"__row_id__":"0"`, want: core.ErrResponseParse},
		{name: "two arrays", in: `[] []`, want: core.ErrResponseParse},
		{name: "empty reply", in: "", want: core.ErrResponseParse},
		{name: "single object", in: `{"not": "an array"}`, want: core.ErrResponseShape},
		{name: "array of scalars", in: `[1, 2]`, want: core.ErrResponseShape},
		{name: "mixed array", in: `[{"__row_id__":"0"}, "x"]`, want: core.ErrResponseShape},
		{name: "null", in: `null`, want: core.ErrResponseShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reconcile.Parse(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReconcile_MatchesByIdentifier(t *testing.T) {
	raw := "```json\n" + `[
		{"__row_id__": "1", "category": "Toys"},
		{"__row_id__": 0, "category": "Tools", "extra": true}
	]` + "\n```"

	got, err := reconcile.Reconcile(raw, batchOf("0", "1"), []string{"category"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, core.RowID("0"), got[0].ID)
	assert.Equal(t, "Tools", got[0].Values["category"])
	assert.Equal(t, true, got[0].Values["extra"])
	assert.NotContains(t, got[0].Values, core.RowIDKey)

	assert.Equal(t, core.RowID("1"), got[1].ID)
	assert.Equal(t, "Toys", got[1].Values["category"])
}

func TestReconcile_MatchesIntegralFloatIdentifiers(t *testing.T) {
	raw := `[{"__row_id__": 0.0, "category": "Tool"}, {"__row_id__": 1.0, "category": "Toy"}]`

	got, err := reconcile.Reconcile(raw, batchOf("0", "1"), []string{"category"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Tool", got[0].Values["category"])
	assert.Equal(t, "Toy", got[1].Values["category"])
}

func TestReconcile_FallbackForMissingRows(t *testing.T) {
	raw := `[{"__row_id__": "0", "category": "Tools", "size": null}]`

	got, err := reconcile.Reconcile(raw, batchOf("0", "1", "2"), []string{"category", "size"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, id := range []core.RowID{"1", "2"} {
		rec := got[i+1]
		assert.Equal(t, id, rec.ID)
		require.Contains(t, rec.Values, "category")
		require.Contains(t, rec.Values, "size")
		assert.Nil(t, rec.Values["category"])
		assert.Nil(t, rec.Values["size"])
	}
}

func TestReconcile_DuplicateIdentifierLastWins(t *testing.T) {
	raw := `[
		{"__row_id__": "0", "category": "first"},
		{"__row_id__": "0", "category": "second"}
	]`
	got, err := reconcile.Reconcile(raw, batchOf("0"), []string{"category"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Values["category"])
}

func TestReconcile_OverProductionAndMissingIdentifiers(t *testing.T) {
	raw := `[
		{"category": "no id"},
		{"__row_id__": null, "category": "null id"},
		{"__row_id__": "7", "category": "not in batch"},
		{"__row_id__": 1.5, "category": "fractional id"},
		{"__row_id__": "0", "category": "ok"}
	]`
	got, err := reconcile.Reconcile(raw, batchOf("0", "1"), []string{"category"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].Values["category"])
	assert.Nil(t, got[1].Values["category"])
}

func TestReconcile_EmptyArrayPadsEveryRow(t *testing.T) {
	got, err := reconcile.Reconcile(`[]`, batchOf("4", "5"), []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.RowID("4"), got[0].ID)
	assert.Equal(t, core.RowID("5"), got[1].ID)
}

func TestReconcile_PreservesNumbers(t *testing.T) {
	got, err := reconcile.Reconcile(`[{"__row_id__":"0","total":150}]`, batchOf("0"), []string{"total"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("150"), got[0].Values["total"])
}

func TestRowIDOf(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want core.RowID
		ok   bool
	}{
		{name: "string", v: " 3 ", want: "3", ok: true},
		{name: "integer number", v: json.Number("12"), want: "12", ok: true},
		{name: "integral float", v: json.Number("1.0"), want: "1", ok: true},
		{name: "zero float", v: json.Number("0.0"), want: "0", ok: true},
		{name: "exponent", v: json.Number("2e0"), want: "2", ok: true},
		{name: "fraction", v: json.Number("1.5"), ok: false},
		{name: "too large", v: json.Number("1e300"), ok: false},
		{name: "empty string", v: "", ok: false},
		{name: "bool", v: true, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reconcile.RowIDOf(map[string]any{core.RowIDKey: tt.v})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
