package core

import (
	"errors"
	"strings"
)

// Kind names a class of pipeline failure.
type Kind string

const (
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindMalformedInput     Kind = "malformed_input"
	KindEmptyInput         Kind = "empty_input"
	KindUnknownColumns     Kind = "unknown_columns"
	KindDuplicateColumns   Kind = "duplicate_columns"
	KindNoColumnsSelected  Kind = "no_columns_selected"
	KindServiceUnavailable Kind = "service_unavailable"
	KindResponseParse      Kind = "response_parse_error"
	KindResponseShape      Kind = "response_shape_error"
)

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrPayloadTooLarge    = &Error{Kind: KindPayloadTooLarge}
	ErrMalformedInput     = &Error{Kind: KindMalformedInput}
	ErrEmptyInput         = &Error{Kind: KindEmptyInput}
	ErrUnknownColumns     = &Error{Kind: KindUnknownColumns}
	ErrDuplicateColumns   = &Error{Kind: KindDuplicateColumns}
	ErrNoColumnsSelected  = &Error{Kind: KindNoColumnsSelected}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrResponseParse      = &Error{Kind: KindResponseParse}
	ErrResponseShape      = &Error{Kind: KindResponseShape}
)

// Error is a classified pipeline failure. Every failure is terminal for the run.
type Error struct {
	Kind Kind
	Msg  string

	// Columns lists the offending column names for column-related kinds.
	Columns []string

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "pipeline error"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Columns) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Columns, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind, true
	}
	return "", false
}

// IsInputError reports whether the failure was detected before any batch was sent.
func (k Kind) IsInputError() bool {
	switch k {
	case KindPayloadTooLarge, KindMalformedInput, KindEmptyInput,
		KindUnknownColumns, KindDuplicateColumns, KindNoColumnsSelected:
		return true
	}
	return false
}

// IsFormatError reports whether the service replied with text the pipeline could not use.
// Callers may retry with smaller batches or simpler column names.
func (k Kind) IsFormatError() bool {
	return k == KindResponseParse || k == KindResponseShape
}
