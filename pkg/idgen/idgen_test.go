package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewReturnsVersion7(t *testing.T) {
	t.Parallel()

	id, err := uuid.Parse(New())
	if err != nil {
		t.Fatalf("uuid.Parse() error = %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("version = %d, want 7", id.Version())
	}
}

func TestEventIDIsULIDAndUnique(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := EventID()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("ulid.ParseStrict(%q) error = %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate event id %q", id)
		}
		seen[id] = true
	}
}
