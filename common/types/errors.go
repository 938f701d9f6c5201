package types

// ErrorCode is a stable error identifier returned to transports.
type ErrorCode string

const (
	CodeProtocol         ErrorCode = "protocol_error"
	CodeDocumentNotFound ErrorCode = "document_not_found"
	CodeRangeOutOfBounds ErrorCode = "range_out_of_bounds"
	CodeAlreadyExists    ErrorCode = "already_exists"
	CodeSyncUnavailable  ErrorCode = "sync_unavailable"
	CodeRecoveryFailed   ErrorCode = "recovery_failed"
	CodeUnauthenticated  ErrorCode = "unauthenticated"
	CodeInvalidOperation ErrorCode = "invalid_operation"
	CodeInternal         ErrorCode = "internal"
)
