package file_batch

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldSet is one tokenized line: values addressed by the configured names.
type FieldSet struct {
	names  []string
	values []string
}

// NewFieldSet pairs names with values positionally.
func NewFieldSet(names, values []string) (FieldSet, error) {
	if len(names) != len(values) {
		return FieldSet{}, fmt.Errorf("expected %d fields, got %d", len(names), len(values))
	}
	return FieldSet{names: names, values: values}, nil
}

func (fs FieldSet) index(name string) (int, error) {
	for i, n := range fs.names {
		if n == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown field %q", name)
}

// String returns the raw value of the named field.
func (fs FieldSet) String(name string) (string, error) {
	i, err := fs.index(name)
	if err != nil {
		return "", err
	}
	return fs.values[i], nil
}

// Int parses the named field as a base-10 integer, ignoring surrounding blanks.
func (fs FieldSet) Int(name string) (int, error) {
	s, err := fs.String(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("field %q: %q is not an integer", name, s)
	}
	return n, nil
}
