package record

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"lynxdb/dberrors"
)

// SyntheticIDField is the field auto-assigned at insert when a table's
// primary key definition is empty, so PKString always has something to key on.
const SyntheticIDField = "_id"

// PKString builds the canonical primary-key string for r given pkDef: the
// PK field string values joined with "-"; for a single key it is just that
// field's string form; for an empty PrimaryKeyDef it is the synthetic _id
// field. Returns dberrors.ErrPrimaryKeyValueNull if any required component is
// missing.
func PKString(r Record, pkDef []string) (string, error) {
	if len(pkDef) == 0 {
		v, ok := r[SyntheticIDField]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: missing synthetic %s field", dberrors.ErrPrimaryKeyValueNull, SyntheticIDField)
		}
		return fmt.Sprintf("%v", v), nil
	}
	parts := make([]string, len(pkDef))
	for i, field := range pkDef {
		v, ok := r[field]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: missing field %q", dberrors.ErrPrimaryKeyValueNull, field)
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "-"), nil
}

// EnsureSyntheticID assigns a fresh uuid under SyntheticIDField when pkDef is
// empty and the field is absent, so a bare insert() never needs the caller to
// invent an identifier.
func EnsureSyntheticID(r Record, pkDef []string) {
	if len(pkDef) != 0 {
		return
	}
	if v, ok := r[SyntheticIDField]; ok && v != nil {
		return
	}
	r[SyntheticIDField] = uuid.New().String()
}

// ValidatePkDef rejects a primary key definition with duplicate field names.
func ValidatePkDef(pkDef []string) error {
	seen := make(map[string]struct{}, len(pkDef))
	for _, f := range pkDef {
		if _, ok := seen[f]; ok {
			return fmt.Errorf("%w: field %q repeated", dberrors.ErrDuplicatePkDefinition, f)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// TouchesPk reports whether patch assigns any field named in pkDef (or _id
// when pkDef is empty), used to decide whether an update must recompute the
// primary key string.
func TouchesPk(patch Record, pkDef []string) bool {
	if len(pkDef) == 0 {
		_, ok := patch[SyntheticIDField]
		return ok
	}
	for _, f := range pkDef {
		if _, ok := patch[f]; ok {
			return true
		}
	}
	return false
}
