package flow

import (
	"context"
	"sync/atomic"
)

// ChannelMetrics tracks per-channel counters: batches/rows sent and
// received, backpressure events, and the peak number of batches pending
// (sent but not yet received).
type ChannelMetrics struct {
	BatchesSent      atomic.Int64
	RowsSent         atomic.Int64
	BatchesReceived  atomic.Int64
	RowsReceived     atomic.Int64
	BackpressureHits atomic.Int64
	peakPending      atomic.Int64
}

// PeakPending returns the highest number of in-flight batches observed.
func (m *ChannelMetrics) PeakPending() int64 { return m.peakPending.Load() }

func (m *ChannelMetrics) recordPending() {
	sent := m.BatchesSent.Load()
	recv := m.BatchesReceived.Load()
	pending := sent - recv
	for {
		cur := m.peakPending.Load()
		if pending <= cur || m.peakPending.CompareAndSwap(cur, pending) {
			return
		}
	}
}

// BatchChannel is a bounded channel of *ColumnBatch carrying the metrics
// above. A full channel makes Send block — this is the pipeline's natural
// backpressure: a slow downstream blocks the upstream send.
type BatchChannel struct {
	ch      chan *ColumnBatch
	Metrics *ChannelMetrics
}

// NewBatchChannel returns a channel with the given buffer capacity.
func NewBatchChannel(capacity int) *BatchChannel {
	return &BatchChannel{ch: make(chan *ColumnBatch, capacity), Metrics: &ChannelMetrics{}}
}

// Send delivers batch downstream, blocking (and recording a backpressure
// event) if the channel is full, or returning ctx.Err() if ctx is done
// first. Cancellation reaches senders through ctx; Close only signals
// end-of-stream to the receiver, which observes it as Recv's ok=false.
func (c *BatchChannel) Send(ctx context.Context, batch *ColumnBatch) error {
	select {
	case c.ch <- batch:
		c.Metrics.BatchesSent.Add(1)
		c.Metrics.RowsSent.Add(int64(batch.Rows))
		c.Metrics.recordPending()
		return nil
	default:
	}

	c.Metrics.BackpressureHits.Add(1)
	select {
	case c.ch <- batch:
		c.Metrics.BatchesSent.Add(1)
		c.Metrics.RowsSent.Add(int64(batch.Rows))
		c.Metrics.recordPending()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv waits for the next batch, or returns ok=false once the channel is
// closed and drained — the pipeline's cancellation and end-of-stream
// signal.
func (c *BatchChannel) Recv(ctx context.Context) (*ColumnBatch, bool, error) {
	select {
	case b, ok := <-c.ch:
		if !ok {
			return nil, false, nil
		}
		c.Metrics.BatchesReceived.Add(1)
		c.Metrics.RowsReceived.Add(int64(b.Rows))
		c.Metrics.recordPending()
		return b, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Close closes the channel, signaling end-of-stream to any Recv waiter.
// Downstream operators call this on their output once their input is
// drained or cancellation is observed.
func (c *BatchChannel) Close() { close(c.ch) }
