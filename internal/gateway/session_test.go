package gateway

import "testing"

func TestSessionBindings(t *testing.T) {
	s := NewSessionBindings()

	if _, ok := s.Get("c1"); ok {
		t.Fatal("empty table returned a binding")
	}

	s.Bind("c1", "r1", "alice")
	b, ok := s.Get("c1")
	if !ok || b.RoomID != "r1" || b.Username != "alice" {
		t.Fatalf("binding = %+v, ok=%v", b, ok)
	}

	// Rebinding the same connection replaces the old entry.
	s.Bind("c1", "r2", "alice")
	b, _ = s.Get("c1")
	if b.RoomID != "r2" {
		t.Fatalf("room = %q after rebind, want r2", b.RoomID)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}

	b, ok = s.Unbind("c1")
	if !ok || b.RoomID != "r2" {
		t.Fatalf("unbind = %+v, ok=%v", b, ok)
	}
	if _, ok := s.Unbind("c1"); ok {
		t.Fatal("second unbind reported a binding")
	}
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
}
