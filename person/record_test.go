package person

import (
	"testing"

	"github.com/emptyOVO/batchkit-go/batch/file_batch"
)

func TestMapFieldSet(t *testing.T) {
	fs, err := file_batch.NewFieldSet(Columns, []string{"Ana", "111", "ana@x.com", "555-0001", "30"})
	if err != nil {
		t.Fatalf("field set: %v", err)
	}
	got, err := MapFieldSet(fs)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	want := Record{Name: "Ana", Document: "111", Email: "ana@x.com", Phone: "555-0001", Age: 30}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	for _, c := range Columns {
		if !Known(c) {
			t.Fatalf("column %q should be known", c)
		}
	}
}

func TestMapFieldSetRejectsNonNumericAge(t *testing.T) {
	fs, _ := file_batch.NewFieldSet(Columns, []string{"Ana", "111", "ana@x.com", "555-0001", "thirty"})
	if _, err := MapFieldSet(fs); err == nil {
		t.Fatalf("expected non-numeric age to fail")
	}
}

func TestColumnValueUnknown(t *testing.T) {
	if _, ok := (Record{}).ColumnValue("salary"); ok {
		t.Fatalf("unexpected value for unknown column")
	}
}
