package record

import (
	"errors"
	"testing"

	"lynxdb/dberrors"
)

func TestPKStringSingleField(t *testing.T) {
	pk, err := PKString(Record{"id": 7}, []string{"id"})
	if err != nil {
		t.Fatal(err)
	}
	if pk != "7" {
		t.Fatalf("got %q", pk)
	}
}

func TestPKStringCompositeJoinsWithDash(t *testing.T) {
	pk, err := PKString(Record{"a": "x", "b": "y"}, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if pk != "x-y" {
		t.Fatalf("got %q", pk)
	}
}

func TestPKStringMissingComponent(t *testing.T) {
	_, err := PKString(Record{"a": "x"}, []string{"a", "b"})
	if !errors.Is(err, dberrors.ErrPrimaryKeyValueNull) {
		t.Fatalf("expected ErrPrimaryKeyValueNull, got %v", err)
	}
}

func TestPKStringSyntheticIDWhenPkDefEmpty(t *testing.T) {
	r := Record{}
	_, err := PKString(r, nil)
	if !errors.Is(err, dberrors.ErrPrimaryKeyValueNull) {
		t.Fatalf("expected ErrPrimaryKeyValueNull before assignment, got %v", err)
	}
	EnsureSyntheticID(r, nil)
	pk, err := PKString(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pk == "" {
		t.Fatal("expected a non-empty synthetic id")
	}
}

func TestEnsureSyntheticIDDoesNotOverwrite(t *testing.T) {
	r := Record{"_id": "keep-me"}
	EnsureSyntheticID(r, nil)
	if r["_id"] != "keep-me" {
		t.Fatalf("EnsureSyntheticID overwrote an existing _id: %v", r["_id"])
	}
}

func TestValidatePkDefRejectsDuplicates(t *testing.T) {
	if err := ValidatePkDef([]string{"a", "a"}); !errors.Is(err, dberrors.ErrDuplicatePkDefinition) {
		t.Fatalf("expected ErrDuplicatePkDefinition, got %v", err)
	}
	if err := ValidatePkDef([]string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTouchesPk(t *testing.T) {
	if !TouchesPk(Record{"id": 1}, []string{"id"}) {
		t.Fatal("expected TouchesPk true")
	}
	if TouchesPk(Record{"name": "x"}, []string{"id"}) {
		t.Fatal("expected TouchesPk false")
	}
	if !TouchesPk(Record{"_id": "x"}, nil) {
		t.Fatal("expected TouchesPk true for synthetic id with empty pkDef")
	}
}
