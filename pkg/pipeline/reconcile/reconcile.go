// Package reconcile validates a reasoning-service reply and aligns it with the
// batch that produced it, yielding exactly one record per input row.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/palantir/palantir-compute-module-column-enricher/pkg/pipeline/core"
)

const fence = "```"

// StripFences removes fenced-code wrapping from a model reply.
//
// A leading fence line (with an optional language tag such as "json") and a
// trailing fence are dropped, then any stray fence markers left in the text.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, fence) {
		s = strings.TrimPrefix(s, fence)
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && isLanguageTag(s[:nl]) {
			s = s[nl+1:]
		} else if isLanguageTag(s) {
			s = ""
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), fence)
	s = strings.ReplaceAll(s, fence, "")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	s = strings.TrimSpace(s)
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// Parse decodes the reply into a list of objects.
//
// It fails with core.KindResponseParse when the text is not a single JSON value
// and with core.KindResponseShape when the value is not an array of objects.
func Parse(raw string) ([]map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(StripFences(raw)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &core.Error{Kind: core.KindResponseParse, Msg: "reply is not valid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &core.Error{Kind: core.KindResponseParse, Msg: "reply has trailing data after the JSON value"}
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, &core.Error{Kind: core.KindResponseShape, Msg: fmt.Sprintf("reply is %s, want an array of objects", describe(v))}
	}
	out := make([]map[string]any, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &core.Error{Kind: core.KindResponseShape, Msg: fmt.Sprintf("reply element %d is %s, want an object", i, describe(item))}
		}
		out[i] = obj
	}
	return out, nil
}

// Reconcile turns a raw reply into one record per row of b, in row order.
//
// Reply objects are matched by identifier; objects without a usable identifier
// are ignored, and for a repeated identifier the last object wins. Rows absent
// from the reply get a fallback record with nil for every target column.
func Reconcile(raw string, b core.Batch, targets []string) ([]core.Record, error) {
	objs, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	byID := make(map[core.RowID]map[string]any, len(objs))
	for _, obj := range objs {
		id, ok := RowIDOf(obj)
		if !ok {
			continue
		}
		byID[id] = obj
	}

	out := make([]core.Record, len(b.Rows))
	for i, row := range b.Rows {
		obj, ok := byID[row.ID]
		if !ok {
			out[i] = fallback(row.ID, targets)
			continue
		}
		values := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == core.RowIDKey {
				continue
			}
			values[k] = v
		}
		out[i] = core.Record{ID: row.ID, Values: values}
	}
	return out, nil
}

// maxExactFloatInt is the largest magnitude at which every integer is exact in a float64.
const maxExactFloatInt = 1 << 53

// RowIDOf extracts the identifier from a reply object. Strings and
// integer-valued numbers are accepted; numbers are normalised to their integer text.
func RowIDOf(obj map[string]any) (core.RowID, bool) {
	v, ok := obj[core.RowIDKey]
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		if id == "" {
			return "", false
		}
		return core.RowID(id), true
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return core.RowID(strconv.FormatInt(n, 10)), true
		}
		// 1.0 and 1e0 name row 1.
		f, err := id.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactFloatInt {
			return "", false
		}
		return core.RowID(strconv.FormatInt(int64(f), 10)), true
	}
	return "", false
}

func fallback(id core.RowID, targets []string) core.Record {
	values := make(map[string]any, len(targets))
	for _, t := range targets {
		values[t] = nil
	}
	return core.Record{ID: id, Values: values}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}
