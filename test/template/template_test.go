package template

import (
	"bytes"
	"context"
	"testing"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
	"github.com/palantir/palantir-compute-module-column-enricher/test/template/processor"
)

func TestTemplateCompilesWithPipelineKit(t *testing.T) {
	t.Parallel()

	out, outcome, err := processor.Enrich(context.Background(), []byte("email\nbob@corp.test\n\n"), []string{"upper"}, processor.Upper{})
	if err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if outcome != core.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %s", outcome)
	}
	var buf bytes.Buffer
	if err := out.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if got, want := buf.String(), "email,upper\nbob@corp.test,BOB@CORP.TEST\n"; got != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", got, want)
	}
}
