package schema

import "testing"

func TestRegisterAssignsStableUID(t *testing.T) {
	r := NewMemRegistry()

	s1, err := r.Register("order", []FieldDef{{Name: "amount", Type: TypeI64}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s2, err := r.Register("order", []FieldDef{
		{Name: "amount", Type: TypeI64},
		{Name: "currency", Type: TypeString, Optional: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s1.UID != s2.UID {
		t.Fatalf("UID changed across re-registration: %s != %s", s1.UID, s2.UID)
	}
	if len(s2.Fields) != 2 {
		t.Fatalf("expected updated field list to stick, got %d fields", len(s2.Fields))
	}
}

func TestUIDsNeverCollide(t *testing.T) {
	r := NewMemRegistry()
	seen := map[string]bool{}

	for _, et := range []string{"order", "order_item", "orderline", "login", "logout"} {
		s, err := r.Register(et, nil)
		if err != nil {
			t.Fatalf("register %s: %v", et, err)
		}
		if seen[s.UID] {
			t.Fatalf("duplicate UID %s for event_type %s", s.UID, et)
		}
		seen[s.UID] = true
	}
}

func TestFieldTypeAndEnumLookup(t *testing.T) {
	r := NewMemRegistry()
	_, err := r.Register("login", []FieldDef{
		{Name: "kind", Type: TypeEnum, Variants: []string{"android", "web", "ios"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	uid, ok := r.GetUID("login")
	if !ok {
		t.Fatal("expected UID to be found")
	}

	if !r.IsEnumField(uid, "kind") {
		t.Fatal("expected kind to be an enum field")
	}

	if typ, ok := r.FieldType(uid, "missing"); ok || typ != TypeInvalid {
		t.Fatalf("expected missing field lookup to fail, got %v, %v", typ, ok)
	}
}

func TestRegisterRejectsEmptyEventType(t *testing.T) {
	r := NewMemRegistry()
	if _, err := r.Register("", nil); err == nil {
		t.Fatal("expected error for empty event_type")
	}
}
