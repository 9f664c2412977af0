package query

import (
	"context"
	"testing"

	"github.com/colonnade-db/colonnade/internal/aggregate"
	"github.com/colonnade-db/colonnade/internal/filter"
	"github.com/colonnade-db/colonnade/internal/schema"
)

func testRegistry(t *testing.T) *schema.MemRegistry {
	t.Helper()
	reg := schema.NewMemRegistry()
	if _, err := reg.Register("order", []schema.FieldDef{
		{Name: "amount", Type: schema.TypeI64},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestValidate(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"known event type", Spec{EventType: "order"}, false},
		{"wildcard", Spec{EventType: "*"}, false},
		{"empty means wildcard", Spec{}, false},
		{"unknown event type", Spec{EventType: "ghost"}, true},
		{"group_by without aggregates", Spec{EventType: "order", GroupBy: []string{"amount"}}, true},
		{"order_by on aggregates", Spec{
			EventType:  "order",
			Aggregates: []aggregate.Spec{{Op: aggregate.CountAll}},
			OrderBy:    "amount",
		}, true},
		{"negative offset", Spec{EventType: "order", Offset: -1}, true},
		{"aggregate with group_by", Spec{
			EventType:  "order",
			Aggregates: []aggregate.Spec{{Op: aggregate.CountAll}},
			GroupBy:    []string{"amount"},
		}, false},
	}

	for _, tc := range cases {
		err := tc.spec.Validate(reg)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestStreamCollect(t *testing.T) {
	s := NewStream(2)
	ctx := context.Background()

	go func() {
		for i := int64(0); i < 5; i++ {
			s.Send(ctx, Row{"amount": filter.ScalarI64(i)})
		}
		s.CloseWith(nil)
	}()

	rows, err := s.Collect(ctx)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r["amount"].I64 != int64(i) {
			t.Fatalf("row %d out of order: %v", i, r)
		}
	}
}

func TestStreamTerminalError(t *testing.T) {
	s := NewStream(1)
	ctx := context.Background()

	boom := context.DeadlineExceeded
	go func() {
		s.Send(ctx, Row{"amount": filter.ScalarI64(1)})
		s.CloseWith(boom)
	}()

	rows, err := s.Collect(ctx)
	if err != boom {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the row sent before the error, got %d", len(rows))
	}
}
