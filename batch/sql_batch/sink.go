package sql_batch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
)

// ColumnValuer exposes an item's attributes by column name.
type ColumnValuer interface {
	ColumnValue(column string) (any, bool)
}

// Execer is the part of *sql.Tx the writer needs. The writer never begins,
// commits or rolls back: the transaction belongs to the caller.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// BatchItemWriter persists a chunk of items into a relational table.
// It keeps no state between calls.
type BatchItemWriter[T ColumnValuer] struct {
	d       dialect.Dialect
	table   string
	columns []string
	params  []string
	named   string
}

func NewBatchItemWriter[T ColumnValuer](cfg Config, d dialect.Dialect) (*BatchItemWriter[T], error) {
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &BatchItemWriter[T]{d: d, params: cfg.Parameters()}
	if strings.TrimSpace(cfg.SQL) != "" {
		query, _ := parseNamed(cfg.SQL)
		w.named = d.Rebind(query)
		return w, nil
	}
	table, err := d.Quote(cfg.Table)
	if err != nil {
		return nil, err
	}
	cols, err := d.QuoteAll(cfg.Columns)
	if err != nil {
		return nil, err
	}
	w.table = table
	w.columns = cols
	return w, nil
}

// Write inserts items in order. An empty chunk is a no-op.
func (w *BatchItemWriter[T]) Write(ctx context.Context, tx Execer, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if w.named != "" {
		return w.writeNamed(ctx, tx, items)
	}
	return w.writeMultiRow(ctx, tx, items)
}

func (w *BatchItemWriter[T]) writeMultiRow(ctx context.Context, tx Execer, items []T) error {
	perStmt := w.d.MaxPlaceholders / len(w.params)
	if perStmt < 1 {
		perStmt = 1
	}
	for start := 0; start < len(items); start += perStmt {
		end := start + perStmt
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		args := make([]any, 0, len(batch)*len(w.params))
		valueSQL := make([]string, 0, len(batch))
		holders := make([]string, len(w.params))
		for i, item := range batch {
			vals, err := w.values(item)
			if err != nil {
				return fmt.Errorf("item %d: %w", start+i, err)
			}
			for j := range holders {
				holders[j] = w.d.Placeholder(len(args) + j + 1)
			}
			valueSQL = append(valueSQL, "("+strings.Join(holders, ", ")+")")
			args = append(args, vals...)
		}
		sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", w.table, strings.Join(w.columns, ", "), strings.Join(valueSQL, ","))
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert %d rows into %s: %w", len(batch), w.table, err)
		}
	}
	return nil
}

func (w *BatchItemWriter[T]) writeNamed(ctx context.Context, tx Execer, items []T) error {
	stmt, err := tx.PrepareContext(ctx, w.named)
	if err != nil {
		return fmt.Errorf("prepare %q: %w", w.named, err)
	}
	defer stmt.Close()

	for i, item := range items {
		vals, err := w.values(item)
		if err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (w *BatchItemWriter[T]) values(item T) ([]any, error) {
	out := make([]any, 0, len(w.params))
	for _, p := range w.params {
		v, ok := item.ColumnValue(p)
		if !ok {
			return nil, fmt.Errorf("no value for parameter %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}
