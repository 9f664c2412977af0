package errors

// IndexError provides specialized error handling for zone-pruning index
// operations: the XOR field filter, zone XOR index, SuRF range filter, enum
// bitmap, and temporal calendar/ZTI. This structure extends the base error
// system with index-specific context while properly supporting method
// chaining through all base error methods.
type IndexError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// Identifies which field the index entry belongs to (e.g. "amount", "kind").
	field string

	// Indicates which index kind was involved ("xor_field", "zone_xor",
	// "surf", "enum_bitmap", "calendar").
	kind string

	// Indicates which segment was involved in the error, if applicable.
	segmentID uint32

	// Identifies the zone within the segment, if applicable. -1 means
	// segment-level (not zone-scoped), matching kinds like the XOR field filter.
	zoneID int64

	// Describes what operation was being performed when the error occurred
	// (e.g. "Build", "Probe", "Load", "Decode").
	operation string

	// Captures the size of the index structure at the time of the error.
	indexSize int
}

// NewIndexError creates a new index-specific error with the provided context.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{baseError: NewBaseError(err, code, msg), zoneID: -1}
}

// Override base error methods to return *IndexError instead of *baseError.

func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

func (ie *IndexError) WithCode(code ErrorCode) *IndexError {
	ie.baseError.WithCode(code)
	return ie
}

func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// Index-specific methods that add domain-specific context to the error.

// WithField records which field the index entry belongs to.
func (ie *IndexError) WithField(field string) *IndexError {
	ie.field = field
	return ie
}

// WithKind records which index kind was involved.
func (ie *IndexError) WithKind(kind string) *IndexError {
	ie.kind = kind
	return ie
}

// WithSegmentID captures which segment was involved in the error.
func (ie *IndexError) WithSegmentID(segmentID uint32) *IndexError {
	ie.segmentID = segmentID
	return ie
}

// WithZoneID captures which zone within the segment was involved.
func (ie *IndexError) WithZoneID(zoneID uint32) *IndexError {
	ie.zoneID = int64(zoneID)
	return ie
}

// WithOperation records what index operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// WithIndexSize captures the size of the index structure when the error occurred.
func (ie *IndexError) WithIndexSize(size int) *IndexError {
	ie.indexSize = size
	return ie
}

// Getter methods provide access to the IndexError-specific context.

func (ie *IndexError) Field() string     { return ie.field }
func (ie *IndexError) Kind() string      { return ie.kind }
func (ie *IndexError) SegmentID() uint32 { return ie.segmentID }
func (ie *IndexError) ZoneID() int64     { return ie.zoneID }
func (ie *IndexError) Operation() string { return ie.operation }
func (ie *IndexError) IndexSize() int    { return ie.indexSize }

// Helper functions for creating common index errors with appropriate context.

// NewIndexUnavailableError creates an error for when the catalog has no index
// of the requested kind for a field, forcing the planner to fall back.
func NewIndexUnavailableError(field, kind string, segmentID uint32) *IndexError {
	return NewIndexError(nil, ErrorCodeIndexUnavailable, "requested index kind unavailable for field").
		WithField(field).
		WithKind(kind).
		WithSegmentID(segmentID).
		WithOperation("Plan")
}

// NewIndexCorruptionError creates an error for index corruption scenarios,
// such as a binary-fuse filter or SuRF range filter failing its header checks.
func NewIndexCorruptionError(kind string, segmentID uint32, cause error) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexCorrupted, "index structure corrupted").
		WithKind(kind).
		WithSegmentID(segmentID).
		WithOperation("Load").
		WithDetail("corruption_detected", true)
}

// NewIndexTimestampExtractionError creates an error for calendar/ZTI entries
// that could not be parsed for their timestamp component.
func NewIndexTimestampExtractionError(field string, cause error) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexTimestampExtraction, "failed to extract timestamp from temporal index").
		WithField(field).
		WithKind("calendar").
		WithOperation("Decode")
}
