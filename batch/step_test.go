package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	"github.com/emptyOVO/batchkit-go/batch/file_batch"
	"github.com/emptyOVO/batchkit-go/batch/sql_batch"
	"github.com/emptyOVO/batchkit-go/person"
)

func openSink(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := PrepareSinkTable(context.Background(), db, sqliteDialect(t), "pessoa"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func sqliteDialect(t *testing.T) dialect.Dialect {
	t.Helper()
	d, err := dialect.For(dialect.SQLite)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func writeSource(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadastros.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pessoa`).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func selectPeople(t *testing.T, db *sql.DB) []person.Record {
	t.Helper()
	rows, err := db.Query(`SELECT name, document, email, phone, age FROM pessoa ORDER BY id`)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()
	var out []person.Record
	for rows.Next() {
		var r person.Record
		if err := rows.Scan(&r.Name, &r.Document, &r.Email, &r.Phone, &r.Age); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

// recordingWriter records chunk sizes and can fail a given chunk after the
// inner writer already inserted its rows.
type recordingWriter struct {
	inner  ItemWriter[person.Record]
	sizes  []int
	failAt int
}

func (w *recordingWriter) Write(ctx context.Context, tx sql_batch.Execer, items []person.Record) error {
	w.sizes = append(w.sizes, len(items))
	if err := w.inner.Write(ctx, tx, items); err != nil {
		return err
	}
	if w.failAt == len(w.sizes) {
		return fmt.Errorf("sink rejected chunk %d", w.failAt)
	}
	return nil
}

func newRecordingWriter(t *testing.T) *recordingWriter {
	t.Helper()
	inner, err := sql_batch.NewBatchItemWriter[person.Record](sql_batch.Config{Table: "pessoa", Columns: person.Columns}, sqliteDialect(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return &recordingWriter{inner: inner}
}

func personReader(path string) *file_batch.FlatFileReader[person.Record] {
	return file_batch.NewFlatFileReader[person.Record](file_batch.Config{Path: path, Names: person.Columns}, person.MapFieldSet)
}

func runStep(t *testing.T, step Step) (*StepExecution, error) {
	t.Helper()
	se := &StepExecution{StepName: step.Name(), Status: StatusStarted}
	err := step.Execute(context.Background(), &StepContext{Execution: se})
	return se, err
}

type countingListener struct {
	before, after, failed int
	items                 []int
}

func (l *countingListener) BeforeChunk(ctx context.Context, cc ChunkContext) {
	l.before++
	l.items = append(l.items, cc.Items)
}

func (l *countingListener) AfterChunk(ctx context.Context, cc ChunkContext) { l.after++ }

func (l *countingListener) AfterChunkError(ctx context.Context, cc ChunkContext, err error) {
	l.failed++
}

func TestChunkStepSplitsIntoChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadastros.csv")
	if err := PrepareSyntheticSource(context.Background(), PrepareConfig{Path: path, Rows: 450, CommentEvery: 100}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	db := openSink(t)
	w := newRecordingWriter(t)
	l := &countingListener{}
	step := NewChunkStep[person.Record](StepConfig{}, personReader(path), w, db, l)

	se, err := runStep(t, step)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if want := []int{200, 200, 50}; !reflect.DeepEqual(w.sizes, want) {
		t.Fatalf("chunk sizes = %v, want %v", w.sizes, want)
	}
	if got := countRows(t, db); got != 450 {
		t.Fatalf("rows = %d, want 450", got)
	}
	if se.ReadCount != 450 || se.WriteCount != 450 || se.CommitCount != 3 || se.RollbackCount != 0 {
		t.Fatalf("unexpected counts: %+v", se)
	}
	if se.ReadPosition != 450 {
		t.Fatalf("read position = %d, want 450", se.ReadPosition)
	}
	if l.before != 3 || l.after != 3 || l.failed != 0 {
		t.Fatalf("listener calls before=%d after=%d failed=%d", l.before, l.after, l.failed)
	}
}

func TestChunkStepExactMultipleHasNoEmptyChunk(t *testing.T) {
	path := writeSource(t,
		"Ana,111,ana@x.com,555-0001,30",
		"Bob,222,bob@x.com,555-0002,41",
	)
	db := openSink(t)
	w := newRecordingWriter(t)
	l := &countingListener{}
	step := NewChunkStep[person.Record](StepConfig{ChunkSize: 2}, personReader(path), w, db, l)
	if _, err := runStep(t, step); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(w.sizes) != 1 || l.before != 1 {
		t.Fatalf("writer calls = %v, before = %d", w.sizes, l.before)
	}
}

func TestChunkStepCommentLinesIgnored(t *testing.T) {
	path := writeSource(t,
		"Ana,111,ana@x.com,555-0001,30",
		"---skip",
		"Bob,222,bob@x.com,555-0002,41",
	)
	db := openSink(t)
	w := newRecordingWriter(t)
	step := NewChunkStep[person.Record](StepConfig{ChunkSize: 1}, personReader(path), w, db)

	if _, err := runStep(t, step); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if want := []int{1, 1}; !reflect.DeepEqual(w.sizes, want) {
		t.Fatalf("chunk sizes = %v, want %v", w.sizes, want)
	}
	want := []person.Record{
		{Name: "Ana", Document: "111", Email: "ana@x.com", Phone: "555-0001", Age: 30},
		{Name: "Bob", Document: "222", Email: "bob@x.com", Phone: "555-0002", Age: 41},
	}
	if got := selectPeople(t, db); !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %+v, want %+v", got, want)
	}
}

func TestChunkStepMalformedRecordNeverCommitsItsChunk(t *testing.T) {
	path := writeSource(t,
		"Ana,111,ana@x.com,555-0001,30",
		"Bob,222,bob@x.com,555-0002,thirty",
	)
	db := openSink(t)
	w := newRecordingWriter(t)
	step := NewChunkStep[person.Record](StepConfig{}, personReader(path), w, db)

	se, err := runStep(t, step)
	var mre *MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if mre.Line != 2 {
		t.Fatalf("malformed line = %d, want 2", mre.Line)
	}
	if len(w.sizes) != 0 {
		t.Fatalf("writer must not be called, got %v", w.sizes)
	}
	if got := countRows(t, db); got != 0 {
		t.Fatalf("rows = %d, want 0", got)
	}
	if se.RollbackCount != 1 || se.CommitCount != 0 {
		t.Fatalf("unexpected counts: %+v", se)
	}
}

func TestChunkStepMalformedRecordKeepsEarlierCommits(t *testing.T) {
	path := writeSource(t,
		"Ana,111,ana@x.com,555-0001,30",
		"Bob,222,bob@x.com,555-0002,thirty",
	)
	db := openSink(t)
	step := NewChunkStep[person.Record](StepConfig{ChunkSize: 1}, personReader(path), newRecordingWriter(t), db)

	if _, err := runStep(t, step); err == nil {
		t.Fatalf("expected failure")
	}
	if got := countRows(t, db); got != 1 {
		t.Fatalf("rows = %d, want 1", got)
	}
}

func TestChunkStepWriteFailureRollsBack(t *testing.T) {
	path := writeSource(t,
		"A,1,a@x.com,1,20",
		"B,2,b@x.com,2,21",
		"C,3,c@x.com,3,22",
		"D,4,d@x.com,4,23",
		"E,5,e@x.com,5,24",
	)
	db := openSink(t)
	w := newRecordingWriter(t)
	w.failAt = 2
	l := &countingListener{}
	step := NewChunkStep[person.Record](StepConfig{ChunkSize: 2}, personReader(path), w, db, l)

	se, err := runStep(t, step)
	var wf *WriteFailure
	if !errors.As(err, &wf) {
		t.Fatalf("expected WriteFailure, got %v", err)
	}
	if wf.Chunk != 2 || wf.Items != 2 {
		t.Fatalf("unexpected failure: %+v", wf)
	}
	if got := countRows(t, db); got != 2 {
		t.Fatalf("rows = %d, want 2 (second chunk rolled back)", got)
	}
	if se.CommitCount != 1 || se.RollbackCount != 1 || se.WriteCount != 2 || se.ReadPosition != 2 {
		t.Fatalf("unexpected counts: %+v", se)
	}
	if l.after != 1 || l.failed != 1 {
		t.Fatalf("listener calls after=%d failed=%d", l.after, l.failed)
	}
}

func TestChunkStepMissingSource(t *testing.T) {
	db := openSink(t)
	w := newRecordingWriter(t)
	step := NewChunkStep[person.Record](StepConfig{}, personReader(filepath.Join(t.TempDir(), "missing.csv")), w, db)

	_, err := runStep(t, step)
	var rue *ResourceUnavailableError
	if !errors.As(err, &rue) || rue.Resource != "source" {
		t.Fatalf("expected source ResourceUnavailableError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
	if len(w.sizes) != 0 || countRows(t, db) != 0 {
		t.Fatalf("nothing must be written")
	}
}

func TestChunkStepUnreachableSink(t *testing.T) {
	path := writeSource(t, "Ana,111,ana@x.com,555-0001,30")
	db := openSink(t)
	db.Close()
	step := NewChunkStep[person.Record](StepConfig{}, personReader(path), newRecordingWriter(t), db)

	_, err := runStep(t, step)
	var rue *ResourceUnavailableError
	if !errors.As(err, &rue) || rue.Resource != "sink" {
		t.Fatalf("expected sink ResourceUnavailableError, got %v", err)
	}
}

func TestChunkStepSkipLimit(t *testing.T) {
	lines := []string{
		"A,1,a@x.com,1,20",
		"B,2,b@x.com,2,x",
		"C,3,c@x.com,3,22",
	}
	db := openSink(t)
	step := NewChunkStep[person.Record](StepConfig{SkipLimit: 1}, personReader(writeSource(t, lines...)), newRecordingWriter(t), db)
	se, err := runStep(t, step)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if se.SkipCount != 1 || se.WriteCount != 2 {
		t.Fatalf("unexpected counts: %+v", se)
	}

	lines = append(lines, "D,4,d@x.com,4,y")
	db = openSink(t)
	step = NewChunkStep[person.Record](StepConfig{SkipLimit: 1}, personReader(writeSource(t, lines...)), newRecordingWriter(t), db)
	if _, err := runStep(t, step); err == nil || !strings.Contains(err.Error(), "skip limit 1 exceeded") {
		t.Fatalf("expected skip limit failure, got %v", err)
	}
	if got := countRows(t, db); got != 0 {
		t.Fatalf("rows = %d, want 0", got)
	}
}

func TestChunkStepCancelled(t *testing.T) {
	path := writeSource(t, "Ana,111,ana@x.com,555-0001,30")
	db := openSink(t)
	w := newRecordingWriter(t)
	step := NewChunkStep[person.Record](StepConfig{}, personReader(path), w, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	se := &StepExecution{StepName: step.Name()}
	if err := step.Execute(ctx, &StepContext{Execution: se}); err == nil {
		t.Fatalf("expected cancellation error")
	}
	if len(w.sizes) != 0 {
		t.Fatalf("writer must not be called")
	}
}

func TestChunkStepInvalidReaderConfigIsNotUnavailable(t *testing.T) {
	db := openSink(t)
	w := newRecordingWriter(t)
	reader := file_batch.NewFlatFileReader[person.Record](file_batch.Config{Path: writeSource(t, "Ana,111,ana@x.com,555-0001,30")}, person.MapFieldSet)
	step := NewChunkStep[person.Record](StepConfig{}, reader, w, db)

	_, err := runStep(t, step)
	if err == nil || !strings.Contains(err.Error(), "reader.names is required") {
		t.Fatalf("expected config error, got %v", err)
	}
	var rue *ResourceUnavailableError
	if errors.As(err, &rue) {
		t.Fatalf("config error reported as unavailable resource: %v", err)
	}
	if len(w.sizes) != 0 {
		t.Fatalf("writer must not be called")
	}
}
