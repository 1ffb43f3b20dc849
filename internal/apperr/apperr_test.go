package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	err := fmt.Errorf("move task: %w", Conflictf("cycle detected"))
	if !IsKind(err, Conflict) {
		t.Fatalf("expected conflict, got %q", KindOf(err))
	}
	if IsKind(err, NotFound) {
		t.Fatalf("conflict must not classify as not_found")
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("errors.Is against sentinel should match by kind")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is matched the wrong sentinel")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	base := errors.New("unique constraint")
	err := Wrap(Conflict, base, "proposal already open")
	if !errors.Is(err, base) {
		t.Fatalf("cause lost")
	}
	if KindOf(err) != Conflict {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if Wrap(Conflict, nil, "x") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestWithCopiesDetails(t *testing.T) {
	orig := Conflictf("insufficient points").With("available", 10)
	next := orig.With("required", 20)
	if _, ok := orig.Details["required"]; ok {
		t.Fatalf("With mutated the original error")
	}
	if next.Details["available"] != 10 || next.Details["required"] != 20 {
		t.Fatalf("unexpected details %v", next.Details)
	}
	if KindOf(nil) != "" || IsKind(nil, Conflict) {
		t.Fatalf("nil error must not classify")
	}
}
