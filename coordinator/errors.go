package coordinator

import (
	"errors"
	"fmt"

	"github.com/texmesh/go-texmesh/branch"
	"github.com/texmesh/go-texmesh/common/types"
	"github.com/texmesh/go-texmesh/crdt"
	"github.com/texmesh/go-texmesh/p2p"
)

// ErrUnauthenticated is returned for sessions that did not authenticate.
var ErrUnauthenticated = errors.New("unauthenticated")

// Error is returned by every Coordinator method that is called by transports.
type Error struct {
	Code    types.ErrorCode
	Message string

	err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// order matters, recovery failures wrap network and lookup errors.
var codes = []struct {
	err  error
	code types.ErrorCode
}{
	{ErrUnauthenticated, types.CodeUnauthenticated},
	{branch.ErrRecoveryFailed, types.CodeRecoveryFailed},
	{types.ErrInvalidOperation, types.CodeInvalidOperation},
	{p2p.ErrMalformedMessage, types.CodeProtocol},
	{crdt.ErrMalformedChange, types.CodeProtocol},
	{crdt.ErrMalformedSnapshot, types.CodeProtocol},
	{crdt.ErrBranchNotFound, types.CodeDocumentNotFound},
	{crdt.ErrRangeOutOfBounds, types.CodeRangeOutOfBounds},
	{crdt.ErrAlreadyExists, types.CodeAlreadyExists},
	{p2p.ErrSyncUnavailable, types.CodeSyncUnavailable},
}

// toError maps err to a stable code. Errors without a code are reported as internal
// and their text is not exposed.
func toError(err error) *Error {
	if err == nil {
		return nil
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &Error{Code: c.code, Message: err.Error(), err: err}
		}
	}
	return &Error{Code: types.CodeInternal, Message: "internal error", err: err}
}
