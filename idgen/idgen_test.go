package idgen_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hazyhaar/kbsync/idgen"
)

func TestUUIDv7(t *testing.T) {
	gen := idgen.UUIDv7()

	id := gen()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("UUIDv7 produced unparseable ID %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("version = %d, want 7", u.Version())
	}

	// WHAT: two consecutive IDs must differ.
	if gen() == gen() {
		t.Fatal("consecutive UUIDv7 IDs collided")
	}
}

func TestNanoID(t *testing.T) {
	gen := idgen.NanoID(12)

	id := gen()
	if len(id) != 12 {
		t.Fatalf("len = %d, want 12", len(id))
	}
	for _, r := range id {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'z')) {
			t.Fatalf("unexpected character %q in NanoID", r)
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := idgen.Prefixed("run_", idgen.UUIDv7())

	id := gen()
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("id %q missing prefix", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "run_")); err != nil {
		t.Fatalf("suffix not a UUID: %v", err)
	}
}

func TestTimestamped(t *testing.T) {
	gen := idgen.Timestamped(idgen.NanoID(6))

	id := gen()
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 {
		t.Fatalf("id %q missing timestamp separator", id)
	}
	if len(parts[0]) != len("20060102T150405Z") {
		t.Fatalf("timestamp portion %q has wrong length", parts[0])
	}
	if len(parts[1]) != 6 {
		t.Fatalf("suffix %q has wrong length", parts[1])
	}
}

func TestNew(t *testing.T) {
	if _, err := uuid.Parse(idgen.New()); err != nil {
		t.Fatalf("New produced unparseable ID: %v", err)
	}
}
