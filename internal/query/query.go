// Package query defines the query specification the engine's command
// surface consumes and the streaming result type query execution
// produces. Execution itself lives in internal/shard and internal/engine;
// this package holds only the shapes they exchange.
package query

import (
	"context"

	"github.com/colonnade-db/colonnade/internal/aggregate"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/schema"
	coreerrors "github.com/colonnade-db/colonnade/pkg/errors"
)

// Wildcard matches every event_type when used as Spec.EventType.
const Wildcard = "*"

// Spec is one query request.
type Spec struct {
	// EventType selects a single event_type, or every one when empty or
	// Wildcard.
	EventType string

	// ContextID, when non-empty, restricts results to one context.
	ContextID string

	// Where is an optional predicate tree over payload and envelope
	// columns. Leaves use the comparison operators ==, !=, <, <=, >, >=,
	// IN; internal nodes are AND/OR/NOT.
	Where filter.Node

	// TimeField names the column time bucketing reads from; defaults to
	// the envelope timestamp when empty.
	TimeField string

	// Aggregates requests aggregate output instead of event rows.
	Aggregates []aggregate.Spec

	// GroupBy lists grouping fields for aggregate queries.
	GroupBy []string

	// Bucket configures optional calendar-aware time bucketing.
	Bucket aggregate.TimeBucketing

	// OrderBy names the column result rows are ordered by; empty means
	// per-shard ingest order with no cross-shard ordering guarantee.
	OrderBy    string
	Descending bool

	// Offset and Limit page the result stream. Limit <= 0 means unlimited.
	Offset int
	Limit  int

	// ReturnFields projects the output columns; empty means every schema
	// field plus the envelope.
	ReturnFields []string
}

// IsWildcard reports whether the spec targets every event_type.
func (s *Spec) IsWildcard() bool { return s.EventType == "" || s.EventType == Wildcard }

// IsAggregate reports whether the spec requests aggregate output.
func (s *Spec) IsAggregate() bool { return len(s.Aggregates) > 0 }

// Validate rejects specs the engine cannot execute: an unknown event_type,
// group-by without aggregates, or an order-by on aggregate output.
func (s *Spec) Validate(reg schema.Registry) error {
	if !s.IsWildcard() {
		if _, ok := reg.GetUID(s.EventType); !ok {
			return coreerrors.NewSchemaUnknownError(s.EventType, "")
		}
	}
	if len(s.GroupBy) > 0 && !s.IsAggregate() {
		return coreerrors.NewQueryRejectedError("group_by requires at least one aggregate")
	}
	if s.IsAggregate() && s.OrderBy != "" {
		return coreerrors.NewQueryRejectedError("order_by is not supported on aggregate queries")
	}
	if s.Offset < 0 {
		return coreerrors.NewQueryRejectedError("offset must be non-negative")
	}
	return nil
}

// Row is one result row: column name to typed value. Envelope columns are
// present under their canonical names (event_id, context_id, timestamp).
type Row map[string]filter.Scalar

// Stream is the ordered result stream a query produces. The producer sends
// rows and closes with an optional terminal error; dropping the consumer's
// context cancels the producer through normal channel backpressure.
type Stream struct {
	ch  chan Row
	err chan error
}

// NewStream builds a stream with the given buffer.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Row, buffer), err: make(chan error, 1)}
}

// Send delivers one row, or returns ctx.Err() if the consumer is gone.
func (s *Stream) Send(ctx context.Context, row Row) error {
	select {
	case s.ch <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWith terminates the stream, recording err (may be nil) for the
// consumer to observe after draining.
func (s *Stream) CloseWith(err error) {
	if err != nil {
		s.err <- err
	}
	close(s.ch)
}

// Next returns the next row; ok=false signals end-of-stream, after which
// Err reports how the stream terminated.
func (s *Stream) Next(ctx context.Context) (Row, bool, error) {
	select {
	case row, ok := <-s.ch:
		return row, ok, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Err returns the producer's terminal error, if any. Valid only after Next
// has returned ok=false.
func (s *Stream) Err() error {
	select {
	case err := <-s.err:
		return err
	default:
		return nil
	}
}

// Collect drains the stream into a slice, returning the terminal error.
func (s *Stream) Collect(ctx context.Context) ([]Row, error) {
	var rows []Row
	for {
		row, ok, err := s.Next(ctx)
		if err != nil {
			return rows, err
		}
		if !ok {
			return rows, s.Err()
		}
		rows = append(rows, row)
	}
}
