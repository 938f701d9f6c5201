package log

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Errors that abort node startup. They are never part of the per-operation error path.
var (
	ErrMalformedConfig  = newFatalError("ERR_MALFORMED_CONFIG", "config file is malformed")
	ErrEnsureDataDir    = newFatalError("ERR_ENSURE_DATA_DIR", "could not open/create data dir")
	ErrRetrieveIdentity = newFatalError("ERR_RETRIEVE_IDENTITY", "could not retrieve identity")
	ErrBindListener     = newFatalError("ERR_BIND_LISTENER", "could not bind network listener")
	ErrOpenDatabase     = newFatalError("ERR_OPEN_DATABASE", "could not open document database")
)

// FatalError describes an error that prevents the node from starting.
type FatalError struct {
	Code   string
	Text   string
	Reason error
}

func newFatalError(code, text string) func(reason error) *FatalError {
	return func(reason error) *FatalError {
		return &FatalError{
			Code:   code,
			Text:   text,
			Reason: reason,
		}
	}
}

func (fe *FatalError) Error() string {
	if fe.Reason != nil {
		return fmt.Sprintf("%s: %v", fe.Text, fe.Reason)
	}
	return fe.Text
}

func (fe *FatalError) Unwrap() error {
	return fe.Reason
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (fe *FatalError) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("code", fe.Code)
	encoder.AddString("error", fe.Error())
	return nil
}
