// Package person holds the record transferred by the registration load job.
package person

import (
	"github.com/emptyOVO/batchkit-go/batch/file_batch"
)

// Columns is the positional layout shared by the source file and the sink table.
var Columns = []string{"name", "document", "email", "phone", "age"}

// Record is one person registration.
type Record struct {
	Name     string
	Document string
	Email    string
	Phone    string
	Age      int
}

// MapFieldSet decodes a tokenized source line. Age must be an integer.
func MapFieldSet(fs file_batch.FieldSet) (Record, error) {
	var r Record
	var err error
	if r.Name, err = fs.String("name"); err != nil {
		return Record{}, err
	}
	if r.Document, err = fs.String("document"); err != nil {
		return Record{}, err
	}
	if r.Email, err = fs.String("email"); err != nil {
		return Record{}, err
	}
	if r.Phone, err = fs.String("phone"); err != nil {
		return Record{}, err
	}
	if r.Age, err = fs.Int("age"); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ColumnValue implements sql_batch.ColumnValuer.
func (r Record) ColumnValue(column string) (any, bool) {
	switch column {
	case "name":
		return r.Name, true
	case "document":
		return r.Document, true
	case "email":
		return r.Email, true
	case "phone":
		return r.Phone, true
	case "age":
		return r.Age, true
	}
	return nil, false
}

// Known reports whether column is an attribute of Record.
func Known(column string) bool {
	_, ok := Record{}.ColumnValue(column)
	return ok
}
