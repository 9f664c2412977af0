package errors

// CompactionError is a specialized error type for flush and compaction
// failures. Both subsystems share the same failure shape: a batch of input
// segments (or a passive memtable) that must be left untouched on failure so
// the job can be retried without loss, per the engine's failure policy.
type CompactionError struct {
	*baseError

	// stage identifies which step of the job failed ("create_dir",
	// "segment_write", "fsync_dir", "index_commit", "verify",
	// "directory_missing", "index_missing", "merge", "rotate").
	stage string

	// level is the target level of the plan, if applicable.
	level int

	// inputSegments lists the segment ids the job was merging, if applicable.
	inputSegments []uint32

	// outputSegment is the segment id the job was trying to produce.
	outputSegment uint32

	// retryable indicates whether the caller should retry with backoff
	// (true for transient I/O) or treat the failure as fatal for the segment.
	retryable bool
}

// NewCompactionError creates a new compaction/flush error.
func NewCompactionError(err error, code ErrorCode, msg string) *CompactionError {
	return &CompactionError{baseError: NewBaseError(err, code, msg), retryable: true}
}

func (ce *CompactionError) WithMessage(msg string) *CompactionError {
	ce.baseError.WithMessage(msg)
	return ce
}

func (ce *CompactionError) WithCode(code ErrorCode) *CompactionError {
	ce.baseError.WithCode(code)
	return ce
}

func (ce *CompactionError) WithDetail(key string, value any) *CompactionError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithStage records which step of the job failed.
func (ce *CompactionError) WithStage(stage string) *CompactionError {
	ce.stage = stage
	return ce
}

// WithLevel records the target level of the plan.
func (ce *CompactionError) WithLevel(level int) *CompactionError {
	ce.level = level
	return ce
}

// WithInputSegments records the input segment ids the job was merging.
func (ce *CompactionError) WithInputSegments(ids []uint32) *CompactionError {
	ce.inputSegments = ids
	return ce
}

// WithOutputSegment records the segment id the job was trying to produce.
func (ce *CompactionError) WithOutputSegment(id uint32) *CompactionError {
	ce.outputSegment = id
	return ce
}

// WithRetryable overrides the default retryable classification.
func (ce *CompactionError) WithRetryable(retryable bool) *CompactionError {
	ce.retryable = retryable
	return ce
}

func (ce *CompactionError) Stage() string          { return ce.stage }
func (ce *CompactionError) Level() int             { return ce.level }
func (ce *CompactionError) InputSegments() []uint32 { return ce.inputSegments }
func (ce *CompactionError) OutputSegment() uint32   { return ce.outputSegment }
func (ce *CompactionError) Retryable() bool         { return ce.retryable }

// NewFlushFailedError creates an error for a failed flush job. Flush failures
// never roll back the WAL; the passive buffer is retried on the next tick.
func NewFlushFailedError(stage string, outputSegment uint32, cause error) *CompactionError {
	return NewCompactionError(cause, ErrorCodeFlushFailed, "segment flush failed").
		WithStage(stage).
		WithOutputSegment(outputSegment).
		WithRetryable(true)
}

// NewSegmentVerificationFailedError creates an error for when a flushed or
// compacted segment cannot be confirmed queryable after bounded retry.
func NewSegmentVerificationFailedError(outputSegment uint32, cause error) *CompactionError {
	return NewCompactionError(cause, ErrorCodeSegmentVerificationFailed, "segment verification failed").
		WithStage("verify").
		WithOutputSegment(outputSegment).
		WithRetryable(false)
}

// NewCompactionFailedError creates an error for a failed merge. Inputs are
// left untouched; the plan is retried on the next policy tick.
func NewCompactionFailedError(level int, inputs []uint32, stage string, cause error) *CompactionError {
	return NewCompactionError(cause, ErrorCodeCompactionFailed, "compaction merge failed").
		WithLevel(level).
		WithInputSegments(inputs).
		WithStage(stage).
		WithRetryable(true)
}
