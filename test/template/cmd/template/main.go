package main

import (
	"context"
	"os"

	"github.com/palantir/palantir-compute-module-column-enricher/test/template/processor"
)

func main() {
	out, _, err := processor.Enrich(context.Background(), []byte("email\nalice@example.com\n"), []string{"upper"}, processor.Upper{})
	if err != nil {
		panic(err)
	}
	if err := out.WriteCSV(os.Stdout); err != nil {
		panic(err)
	}
}
