package types

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidOperation is returned for operations that can't be applied to any document.
var ErrInvalidOperation = errors.New("invalid operation")

// Range is a half-open [Start, End) interval of rune offsets.
type Range struct {
	Start int
	End   int
}

// Len of the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Valid is true if range is well-formed regardless of the document length.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// OpKind enumerates editing primitives.
type OpKind uint8

const (
	// OpInsert inserts content at a position.
	OpInsert OpKind = iota + 1
	// OpDelete removes a range.
	OpDelete
	// OpReplace removes a range and inserts content in its place atomically.
	OpReplace
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Operation is a single edit of a document. Only fields relevant for the Kind are set.
type Operation struct {
	Kind     OpKind
	Position int
	Range    Range
	Content  string
}

// Insert content at position.
func Insert(position int, content string) Operation {
	return Operation{Kind: OpInsert, Position: position, Content: content}
}

// Delete a range of the document.
func Delete(r Range) Operation {
	return Operation{Kind: OpDelete, Range: r}
}

// Replace a range of the document with content.
func Replace(r Range, content string) Operation {
	return Operation{Kind: OpReplace, Range: r, Content: content}
}

// Validate checks that the operation is well-formed. Bounds against the
// current content are checked by the replica.
func (op Operation) Validate() error {
	if !utf8.ValidString(op.Content) {
		return fmt.Errorf("%w: content is not valid utf-8", ErrInvalidOperation)
	}
	switch op.Kind {
	case OpInsert:
		if op.Position < 0 {
			return fmt.Errorf("%w: negative position %d", ErrInvalidOperation, op.Position)
		}
		if len(op.Content) == 0 {
			return fmt.Errorf("%w: empty insert", ErrInvalidOperation)
		}
	case OpDelete:
		if !op.Range.Valid() {
			return fmt.Errorf("%w: range %s", ErrInvalidOperation, op.Range)
		}
		if op.Range.Len() == 0 {
			return fmt.Errorf("%w: empty delete", ErrInvalidOperation)
		}
	case OpReplace:
		if !op.Range.Valid() {
			return fmt.Errorf("%w: range %s", ErrInvalidOperation, op.Range)
		}
		if op.Range.Len() == 0 && len(op.Content) == 0 {
			return fmt.Errorf("%w: empty replace", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: kind %s", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (op Operation) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", op.Kind.String())
	switch op.Kind {
	case OpInsert:
		enc.AddInt("position", op.Position)
	case OpDelete, OpReplace:
		enc.AddString("range", op.Range.String())
	}
	enc.AddInt("content_len", utf8.RuneCountInString(op.Content))
	return nil
}
