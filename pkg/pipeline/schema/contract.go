package schema

import (
	"math"
	"strconv"
	"strings"
)

// Type is the inferred logical type of a column.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeDouble  Type = "double"
	TypeBoolean Type = "boolean"
)

// Field captures the behavior-relevant schema of one column.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// IsText reports whether values of this field are free text.
func (f Field) IsText() bool {
	return f.Type == TypeString
}

// IsNumeric reports whether values of this field are numbers.
func (f Field) IsNumeric() bool {
	return f.Type == TypeInteger || f.Type == TypeDouble
}

// InferType returns the narrowest type that fits every non-missing value.
//
// A column with no values at all is reported as double: it carries no text.
func InferType(values []string) Type {
	if len(values) == 0 {
		return TypeDouble
	}
	allInt, allFloat, allBool := true, true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := ParseNumber(v); !ok {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := ParseBool(v); !ok {
				allBool = false
			}
		}
		if !allInt && !allFloat && !allBool {
			return TypeString
		}
	}
	switch {
	case allInt:
		return TypeInteger
	case allFloat:
		return TypeDouble
	default:
		return TypeBoolean
	}
}

// ParseNumber parses a finite decimal number. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseBool accepts the spellings a spreadsheet export typically produces.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(s) {
	case "true", "True", "TRUE":
		return true, true
	case "false", "False", "FALSE":
		return false, true
	}
	return false, false
}
