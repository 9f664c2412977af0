package errors

import stdErrors "errors"

// QueryError is a specialized error type for the query path: unknown schema
// references, rejected query specs, and cache-load failures that should
// surface only to the in-flight request rather than take down the engine.
type QueryError struct {
	*baseError

	// eventType identifies the event_type the query or store call referenced.
	eventType string

	// column identifies the offending column, if applicable.
	column string

	// stage identifies which part of query execution failed ("plan",
	// "validate", "prune", "decode", "filter", "aggregate", "sequence").
	stage string
}

// NewQueryError creates a new query-path error.
func NewQueryError(err error, code ErrorCode, msg string) *QueryError {
	return &QueryError{baseError: NewBaseError(err, code, msg)}
}

func (qe *QueryError) WithMessage(msg string) *QueryError {
	qe.baseError.WithMessage(msg)
	return qe
}

func (qe *QueryError) WithCode(code ErrorCode) *QueryError {
	qe.baseError.WithCode(code)
	return qe
}

func (qe *QueryError) WithDetail(key string, value any) *QueryError {
	qe.baseError.WithDetail(key, value)
	return qe
}

// WithEventType records which event_type the query or store call referenced.
func (qe *QueryError) WithEventType(eventType string) *QueryError {
	qe.eventType = eventType
	return qe
}

// WithColumn records the offending column.
func (qe *QueryError) WithColumn(column string) *QueryError {
	qe.column = column
	return qe
}

// WithStage records which part of query execution failed.
func (qe *QueryError) WithStage(stage string) *QueryError {
	qe.stage = stage
	return qe
}

func (qe *QueryError) EventType() string { return qe.eventType }
func (qe *QueryError) Column() string    { return qe.column }
func (qe *QueryError) Stage() string     { return qe.stage }

// NewSchemaUnknownError creates an error for an unknown event_type or field.
func NewSchemaUnknownError(eventType, column string) *QueryError {
	return NewQueryError(nil, ErrorCodeSchemaUnknown, "unknown event_type or field").
		WithEventType(eventType).
		WithColumn(column).
		WithStage("plan")
}

// NewValidationFailedError creates an error for a payload that fails schema
// validation on ingest.
func NewValidationFailedError(eventType, column string, cause error) *QueryError {
	return NewQueryError(cause, ErrorCodeValidationFailed, "payload failed schema validation").
		WithEventType(eventType).
		WithColumn(column).
		WithStage("validate")
}

// NewCacheLoadFailedError creates an error for a decompression/decode failure
// on the query path. The cache entry must not be inserted.
func NewCacheLoadFailedError(stage string, cause error) *QueryError {
	return NewQueryError(cause, ErrorCodeCacheLoadFailed, "column block cache load failed").
		WithStage(stage)
}

// NewQueryRejectedError creates an error for a malformed query spec.
func NewQueryRejectedError(reason string) *QueryError {
	return NewQueryError(nil, ErrorCodeQueryRejected, reason).WithStage("plan")
}

// IsQueryError checks if the given error is a QueryError or contains one in
// its error chain.
func IsQueryError(err error) bool {
	var qe *QueryError
	return stdErrors.As(err, &qe)
}

// IsCompactionError checks if the given error is a CompactionError or
// contains one in its error chain.
func IsCompactionError(err error) bool {
	var ce *CompactionError
	return stdErrors.As(err, &ce)
}
