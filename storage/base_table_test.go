package storage

import (
	"testing"

	"github.com/magiconair/properties/assert"

	"lynxdb/config"
	"lynxdb/query"
	"lynxdb/record"
)

func newTestTable(t *testing.T, pkDef []string) *BaseTable {
	t.Helper()
	tbl, err := New("accounts", pkDef, config.New())
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestInsertAndFindByPk(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	assert.Equal(t, tbl.Insert(record.Record{"id": 1, "name": "a"}), nil)
	got, err := tbl.FindByPk(record.Record{"id": 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, got["name"], "a")
	assert.Equal(t, tbl.Size(), 1)
}

func TestInsertDuplicatePkFails(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1})
	err := tbl.Insert(record.Record{"id": 1})
	if err == nil {
		t.Fatal("expected duplicate primary key error")
	}
}

func TestInsertSyntheticIDWhenPkDefEmpty(t *testing.T) {
	tbl := newTestTable(t, nil)
	assert.Equal(t, tbl.Insert(record.Record{"name": "a"}), nil)
	assert.Equal(t, tbl.Insert(record.Record{"name": "b"}), nil)
	assert.Equal(t, tbl.Size(), 2)
}

func TestSelectProjectsFields(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a", "age": 30})
	_ = tbl.Insert(record.Record{"id": 2, "name": "b", "age": 20})
	rows, err := tbl.Select([]string{"name"}, query.Query{"age": query.Query{"$gte": 25}})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(rows), 1)
	assert.Equal(t, rows[0]["name"], "a")
	if _, ok := rows[0]["age"]; ok {
		t.Fatal("expected age to be excluded from projection")
	}
}

func TestUpdateChangingPkRelocatesRow(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a"})
	n, err := tbl.Update(record.Record{"id": 2}, query.Query{"id": 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 1)
	old, _ := tbl.FindByPk(record.Record{"id": 1})
	if old != nil {
		t.Fatal("expected old pk to be vacated")
	}
	moved, _ := tbl.FindByPk(record.Record{"id": 2})
	assert.Equal(t, moved["name"], "a")
}

func TestUpdatePkCollisionFails(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1})
	_ = tbl.Insert(record.Record{"id": 2})
	_, err := tbl.Update(record.Record{"id": 2}, query.Query{"id": 1})
	if err == nil {
		t.Fatal("expected duplicate primary key error")
	}
}

func TestDeleteByPk(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a"})
	removed, err := tbl.DeleteByPk(record.Record{"id": 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, removed["name"], "a")
	assert.Equal(t, tbl.Size(), 0)
	missing, _ := tbl.FindByPk(record.Record{"id": 1})
	if missing != nil {
		t.Fatal("expected row to be gone")
	}
}

func TestVersionBumpsOnUpdate(t *testing.T) {
	tbl := newTestTable(t, []string{"id"})
	_ = tbl.Insert(record.Record{"id": 1, "name": "a"})
	v0, _ := tbl.version("1")
	_, _ = tbl.Update(record.Record{"name": "b"}, query.Query{"id": 1})
	v1, _ := tbl.version("1")
	if v1 <= v0 {
		t.Fatalf("expected version to increase, got %d -> %d", v0, v1)
	}
}
