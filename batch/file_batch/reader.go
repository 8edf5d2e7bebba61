package file_batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// MalformedRecordError reports a data line that could not be decoded.
type MalformedRecordError struct {
	Line  int
	Input string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d %q: %v", e.Line, e.Input, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// FieldSetMapper turns a tokenized line into an item.
type FieldSetMapper[T any] func(FieldSet) (T, error)

// FlatFileReader streams items from a delimited text file, one per data line.
// Comment lines, blank lines and the configured header lines are never decoded.
type FlatFileReader[T any] struct {
	cfg    Config
	mapper FieldSetMapper[T]

	f        *os.File
	scanner  *bufio.Scanner
	line     int
	position int64
}

func NewFlatFileReader[T any](cfg Config, mapper FieldSetMapper[T]) *FlatFileReader[T] {
	cfg.WithDefaults()
	return &FlatFileReader[T]{cfg: cfg, mapper: mapper}
}

// Validate reports configuration errors without touching the file.
func (r *FlatFileReader[T]) Validate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if r.mapper == nil {
		return fmt.Errorf("reader for %s has no field set mapper", r.cfg.Path)
	}
	return nil
}

// Open acquires the file handle. It must be paired with Close.
func (r *FlatFileReader[T]) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.f != nil {
		return fmt.Errorf("reader for %s is already open", r.cfg.Path)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return err
	}
	r.f = f
	r.scanner = bufio.NewScanner(f)
	r.scanner.Buffer(make([]byte, 64*1024), 1<<20)
	r.line = 0
	r.position = 0
	return nil
}

// Read returns the next item, or io.EOF once the file is exhausted.
func (r *FlatFileReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	raw, ok, err := r.nextDataLine()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, io.EOF
	}
	item, err := r.decode(raw)
	if err != nil {
		return zero, &MalformedRecordError{Line: r.line, Input: raw, Err: err}
	}
	return item, nil
}

// Position is the number of data lines consumed so far, malformed ones included.
func (r *FlatFileReader[T]) Position() int64 {
	return r.position
}

// Restore skips pos data lines without decoding them. It is only valid
// right after Open.
func (r *FlatFileReader[T]) Restore(pos int64) error {
	if r.f == nil {
		return fmt.Errorf("reader for %s is not open", r.cfg.Path)
	}
	if r.position != 0 {
		return fmt.Errorf("reader for %s already consumed %d lines", r.cfg.Path, r.position)
	}
	for r.position < pos {
		_, ok, err := r.nextDataLine()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cannot restore %s to line %d: only %d data lines", r.cfg.Path, pos, r.position)
		}
	}
	return nil
}

// Close releases the file handle. Calling it twice is harmless.
func (r *FlatFileReader[T]) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.scanner = nil
	return err
}

func (r *FlatFileReader[T]) nextDataLine() (string, bool, error) {
	if r.scanner == nil {
		return "", false, fmt.Errorf("reader for %s is not open", r.cfg.Path)
	}
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Text()
		if r.line <= r.cfg.LinesToSkip || r.isComment(raw) || strings.TrimSpace(raw) == "" {
			continue
		}
		r.position++
		return raw, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", false, fmt.Errorf("read %s: %w", r.cfg.Path, err)
	}
	return "", false, nil
}

func (r *FlatFileReader[T]) isComment(line string) bool {
	for _, p := range r.cfg.Comments {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func (r *FlatFileReader[T]) decode(raw string) (T, error) {
	var zero T
	cr := csv.NewReader(strings.NewReader(raw))
	cr.Comma = r.cfg.delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	values, err := cr.Read()
	if err != nil {
		return zero, err
	}
	fs, err := NewFieldSet(r.cfg.Names, values)
	if err != nil {
		return zero, err
	}
	return r.mapper(fs)
}
