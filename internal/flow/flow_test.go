package flow

import (
	"context"
	"testing"
	"time"

	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/memtable"
	"github.com/colonnade-db/colonnade/internal/planner"
	"github.com/colonnade-db/colonnade/internal/schema"
)

func testSchema() *BatchSchema {
	return &BatchSchema{Fields: []FieldSpec{
		{Name: "amount", Type: schema.TypeI64},
		{Name: "country", Type: schema.TypeString},
	}}
}

func TestBatchPool_ReusesBuffers(t *testing.T) {
	pool := NewBatchPool()
	s := testSchema()
	b1 := pool.Get(s, 10)
	b1.AppendRow(map[string]filter.Scalar{"amount": filter.ScalarI64(1), "country": filter.ScalarStr("US")}, nil)
	pool.Put(b1)

	b2 := pool.Get(s, 10)
	if b2 != b1 {
		t.Fatalf("expected pooled batch to be reused")
	}
	if b2.Rows != 0 {
		t.Fatalf("expected reset batch to have 0 rows, got %d", b2.Rows)
	}
}

func TestMemTableSourceAndFilterOp(t *testing.T) {
	events := []*memtable.Event{
		{EventID: 1, ContextID: "ctx-1", Payload: map[string]any{"amount": int64(10), "country": "US"}},
		{EventID: 2, ContextID: "ctx-1", Payload: map[string]any{"amount": int64(20), "country": "DE"}},
		{EventID: 3, ContextID: "ctx-2", Payload: map[string]any{"amount": int64(5), "country": "US"}},
	}

	s := testSchema()
	pool := NewBatchPool()
	ctx := context.Background()

	srcOut := NewBatchChannel(4)
	go MemTableSource(ctx, srcOut, pool, s, events, 8)

	filterOut := NewBatchChannel(4)
	preds := []*filter.Predicate{{Column: "country", Op: planner.OpEq, Value: filter.ScalarStr("US")}}
	go FilterOp(ctx, srcOut, filterOut, pool, preds)

	var total int
	for {
		b, ok, err := filterOut.Recv(ctx)
		if err != nil {
			t.Fatalf("recv error: %v", err)
		}
		if !ok {
			break
		}
		total += b.Rows
	}
	if total != 2 {
		t.Fatalf("expected 2 matching rows, got %d", total)
	}
}

func TestProjectOpReordersColumns(t *testing.T) {
	events := []*memtable.Event{
		{EventID: 1, Payload: map[string]any{"amount": int64(10), "country": "US"}},
	}
	pool := NewBatchPool()
	ctx := context.Background()

	srcOut := NewBatchChannel(2)
	go MemTableSource(ctx, srcOut, pool, testSchema(), events, 8)

	outSchema := &BatchSchema{Fields: []FieldSpec{{Name: "country", Type: schema.TypeString}}}
	projOut := NewBatchChannel(2)
	go ProjectOp(ctx, srcOut, projOut, pool, outSchema)

	b, ok, err := projOut.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("recv: ok=%v err=%v", ok, err)
	}
	if len(b.Schema.Fields) != 1 || b.Get("country") == nil || b.Get("amount") != nil {
		t.Fatalf("projection did not narrow the schema: %+v", b.Schema)
	}
	if b.Get("country").Str[0] != "US" {
		t.Fatalf("projected value lost: %v", b.Get("country").Str)
	}
}

func TestOrderedStreamMerger(t *testing.T) {
	s := testSchema()
	pool := NewBatchPool()
	ctx := context.Background()

	// Two pre-sorted input streams, ascending by amount.
	mkStream := func(values ...int64) *BatchChannel {
		ch := NewBatchChannel(4)
		go func() {
			defer ch.Close()
			for _, v := range values {
				b := pool.Get(s, 1)
				b.AppendRow(map[string]filter.Scalar{
					"amount":  filter.ScalarI64(v),
					"country": filter.ScalarStr("US"),
				}, nil)
				ch.Send(ctx, b)
			}
		}()
		return ch
	}
	ins := []*BatchChannel{mkStream(1, 4, 7), mkStream(2, 3, 9)}

	out := NewBatchChannel(4)
	go OrderedStreamMerger(ctx, ins, out, pool, s, "amount", false, 1, 3)

	var got []int64
	for {
		b, ok, err := out.Recv(ctx)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if !ok {
			break
		}
		col := b.Get("amount")
		for i := 0; i < b.Rows; i++ {
			got = append(got, col.I64[i])
		}
	}

	// Merged order is 1,2,3,4,7,9; offset 1 and limit 3 keep [2 3 4].
	want := []int64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBatchChannel_SendRecv(t *testing.T) {
	ch := NewBatchChannel(1)
	s := testSchema()
	b := NewColumnBatch(s, 1)
	b.AppendRow(map[string]filter.Scalar{"amount": filter.ScalarI64(1)}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := ch.Send(ctx, b); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, ok, err := ch.Recv(ctx)
	if err != nil || !ok {
		t.Fatalf("recv failed: ok=%v err=%v", ok, err)
	}
	if got.Rows != 1 {
		t.Fatalf("got %d rows, want 1", got.Rows)
	}
	if ch.Metrics.BatchesSent.Load() != 1 || ch.Metrics.BatchesReceived.Load() != 1 {
		t.Fatalf("unexpected metrics: %+v", ch.Metrics)
	}
}
