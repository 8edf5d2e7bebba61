package sql_batch

import (
	"context"
	"database/sql"
	"reflect"
	"strings"
	"testing"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	_ "modernc.org/sqlite"
)

type item struct {
	Name string
	Age  int
}

func (i item) ColumnValue(column string) (any, bool) {
	switch column {
	case "name":
		return i.Name, true
	case "age":
		return i.Age, true
	}
	return nil, false
}

func openSink(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE people (name TEXT NOT NULL UNIQUE, age INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func sqliteDialect(t *testing.T) dialect.Dialect {
	d, err := dialect.For(dialect.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func selectAll(t *testing.T, db *sql.DB) []item {
	t.Helper()
	rows, err := db.Query(`SELECT name, age FROM people ORDER BY rowid`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()
	var out []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.Name, &it.Age); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, it)
	}
	return out
}

func writeInTx(t *testing.T, db *sql.DB, w *BatchItemWriter[item], items []item) error {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := w.Write(context.Background(), tx, items); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestWriterMultiRowInsert(t *testing.T) {
	db := openSink(t)
	w, err := NewBatchItemWriter[item](Config{Table: "people", Columns: []string{"name", "age"}}, sqliteDialect(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	in := []item{{"Ana", 30}, {"Bob", 41}, {"Cid", 52}}
	if err := writeInTx(t, db, w, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := selectAll(t, db); !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v want %+v", got, in)
	}
}

func TestWriterSplitsAtPlaceholderLimit(t *testing.T) {
	db := openSink(t)
	d := sqliteDialect(t)
	d.MaxPlaceholders = 4
	w, err := NewBatchItemWriter[item](Config{Table: "people", Columns: []string{"name", "age"}}, d)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	in := []item{{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}, {"e", 5}}
	if err := writeInTx(t, db, w, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := selectAll(t, db); len(got) != len(in) {
		t.Fatalf("expected %d rows, got %d", len(in), len(got))
	}
}

func TestWriterNamedTemplate(t *testing.T) {
	db := openSink(t)
	w, err := NewBatchItemWriter[item](Config{SQL: "INSERT INTO people (name, age) VALUES(:name, :age)"}, sqliteDialect(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	in := []item{{"Ana", 30}, {"Bob", 41}}
	if err := writeInTx(t, db, w, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := selectAll(t, db); !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v want %+v", got, in)
	}
}

func TestWriterConstraintViolationLeavesTxToCaller(t *testing.T) {
	db := openSink(t)
	w, err := NewBatchItemWriter[item](Config{Table: "people", Columns: []string{"name", "age"}}, sqliteDialect(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writeInTx(t, db, w, []item{{"Ana", 30}, {"Ana", 31}}); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
	if got := selectAll(t, db); len(got) != 0 {
		t.Fatalf("expected rolled back chunk, found %+v", got)
	}
}

func TestWriterUnknownColumn(t *testing.T) {
	db := openSink(t)
	w, err := NewBatchItemWriter[item](Config{Table: "people", Columns: []string{"name", "email"}}, sqliteDialect(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	err = writeInTx(t, db, w, []item{{"Ana", 30}})
	if err == nil || !strings.Contains(err.Error(), `"email"`) {
		t.Fatalf("expected missing parameter error, got %v", err)
	}
}

func TestParseNamed(t *testing.T) {
	q, names := parseNamed("INSERT INTO t (a, b) VALUES(:a, :b_2) -- ':x' and x::text")
	if q != "INSERT INTO t (a, b) VALUES(?, ?) -- ':x' and x::text" {
		t.Fatalf("unexpected query: %q", q)
	}
	if !reflect.DeepEqual(names, []string{"a", "b_2"}) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Table: "pessoa; drop", Columns: []string{"a"}}).Validate(); err == nil {
		t.Fatalf("expected invalid table error")
	}
	if err := (Config{Table: "pessoa"}).Validate(); err == nil {
		t.Fatalf("expected missing columns error")
	}
	if err := (Config{SQL: "INSERT INTO t VALUES (1)"}).Validate(); err == nil {
		t.Fatalf("expected missing parameters error")
	}
}
