package storage

import (
	"testing"

	"github.com/magiconair/properties/assert"

	"lynxdb/record"
)

func TestApplyUpdatePreservesSequencePosition(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a"})
	_ = tbl.Insert(record.Record{"id": 2, "name": "b"})

	v0, _ := tbl.Version("1")
	err := tbl.ApplyUpdate("1", record.Record{"id": 1, "name": "a2"})
	assert.Equal(t, err, nil)

	rows, _ := tbl.Select(nil, nil)
	assert.Equal(t, rows[0]["name"], "a2")
	assert.Equal(t, rows[1]["name"], "b")

	v1, _ := tbl.Version("1")
	if v1 != v0+1 {
		t.Fatalf("expected version to bump by 1, got %d -> %d", v0, v1)
	}
}

func TestApplyUpdateRelocatesOnPkChange(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a"})

	err := tbl.ApplyUpdate("1", record.Record{"id": 9, "name": "a"})
	assert.Equal(t, err, nil)
	if tbl.Exists("1") {
		t.Fatal("expected old key to be gone")
	}
	if !tbl.Exists("9") {
		t.Fatal("expected new key to be present")
	}
}

func TestApplyUpdatesResolvesVacateAndReuseChainRegardlessOfMapOrder(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 3, "name": "three"})
	_ = tbl.Insert(record.Record{"id": 4, "name": "four"})

	err := tbl.ApplyUpdates(map[string]record.Record{
		"3": {"id": 100, "name": "three"},
		"4": {"id": 3, "name": "four"},
	})
	assert.Equal(t, err, nil)

	if tbl.Exists("4") {
		t.Fatal("expected old key 4 to be gone")
	}
	rec, ok := tbl.Get("100")
	if !ok || rec["name"] != "three" {
		t.Fatalf("expected row 100 to hold the renamed row 3, got %v (ok=%v)", rec, ok)
	}
	rec, ok = tbl.Get("3")
	if !ok || rec["name"] != "four" {
		t.Fatalf("expected row 3 to hold the renamed row 4, got %v (ok=%v)", rec, ok)
	}
	if tbl.Size() != 2 {
		t.Fatalf("expected 2 rows to survive, got %d", tbl.Size())
	}
}

func TestApplyDeletesRemovesAndCompactsSequence(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1})
	_ = tbl.Insert(record.Record{"id": 2})
	_ = tbl.Insert(record.Record{"id": 3})

	tbl.ApplyDeletes(map[string]struct{}{"2": {}})
	assert.Equal(t, tbl.Size(), 2)
	rows, _ := tbl.Select(nil, nil)
	assert.Equal(t, rows[0]["id"], 1)
	assert.Equal(t, rows[1]["id"], 3)
}

func TestApplyInsertRejectsOccupiedPk(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1})
	err := tbl.ApplyInsert(record.Record{"id": 1})
	if err == nil {
		t.Fatal("expected a conflict error")
	}
}
