package prompt_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/palantir-compute-module-column-enricher/internal/enrich/prompt"
	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

func TestRender(t *testing.T) {
	b := core.Batch{Rows: []core.Row{
		{ID: "0", Fields: []core.Field{{Name: "city", Value: "Paris"}}},
	}}

	out, err := prompt.Render(b, []string{"country", "lead_priority(high/low)"})
	require.NoError(t, err)

	assert.Contains(t, out, `"city": "Paris"`)
	assert.Contains(t, out, `"__row_id__": "0"`)
	assert.Contains(t, out, `["country","lead_priority(high/low)"]`)
	assert.True(t, strings.HasSuffix(out, "Generate the JSON array now:"))
	assert.NotContains(t, out, "{{")
}

func TestRender_EmptyInputs(t *testing.T) {
	out, err := prompt.Render(core.Batch{}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "INPUT ROWS:\n[]")
	assert.Contains(t, out, "REQUESTED NEW COLUMNS:\n[]")
}
