package batch

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	"github.com/emptyOVO/batchkit-go/batch/file_batch"
	"github.com/emptyOVO/batchkit-go/person"
)

// PrepareSyntheticSource writes a synthetic person registration file for
// benchmark. Every CommentEvery data lines a comment line is inserted.
func PrepareSyntheticSource(ctx context.Context, cfg PrepareConfig) error {
	cfg.withDefaults()
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := fmt.Fprintf(w, "%s generated %d rows\n", cfg.CommentPrefix, cfg.Rows); err != nil {
		return err
	}
	fields := make([]string, len(person.Columns))
	for i := int64(0); i < cfg.Rows; i++ {
		if i%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if cfg.CommentEvery > 0 && i > 0 && i%cfg.CommentEvery == 0 {
			if _, err := fmt.Fprintf(w, "%s block %d\n", cfg.CommentPrefix, i/cfg.CommentEvery); err != nil {
				return err
			}
		}
		n := i + 1
		fields[0] = fmt.Sprintf("Person %07d", n)
		fields[1] = fmt.Sprintf("%011d", n)
		fields[2] = fmt.Sprintf("person%d@example.com", n)
		fields[3] = fmt.Sprintf("+55 11 9%08d", n%100000000)
		fields[4] = strconv.FormatInt(18+n%70, 10)
		if _, err := w.WriteString(strings.Join(fields, cfg.Delimiter) + "\n"); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// PrepareSinkTable creates the person table when it does not exist.
func PrepareSinkTable(ctx context.Context, db *sql.DB, d dialect.Dialect, table string) error {
	if table == "" {
		table = "pessoa"
	}
	qt, err := d.Quote(table)
	if err != nil {
		return err
	}
	var id string
	switch d.Driver {
	case dialect.Postgres:
		id = "id BIGSERIAL PRIMARY KEY"
	case dialect.SQLite:
		id = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		id = "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  %s,
  name VARCHAR(255) NOT NULL,
  document VARCHAR(64) NOT NULL,
  email VARCHAR(255) NOT NULL,
  phone VARCHAR(64) NOT NULL,
  age INT NOT NULL
)`, qt, id))
	return err
}

// TruncateSinkTable removes every row of the person table before a reload.
func TruncateSinkTable(ctx context.Context, db *sql.DB, d dialect.Dialect, table string) error {
	if table == "" {
		table = "pessoa"
	}
	qt, err := d.Quote(table)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("TRUNCATE TABLE %s", qt)
	if d.Driver == dialect.SQLite {
		stmt = fmt.Sprintf("DELETE FROM %s", qt)
	}
	_, err = db.ExecContext(ctx, stmt)
	return err
}

// CountSourceRecords decodes the whole source file and returns how many
// records it holds. A malformed line is returned as an error.
func CountSourceRecords(ctx context.Context, cfg ReaderConfig) (int64, error) {
	if len(cfg.Names) == 0 {
		cfg.Names = append([]string(nil), person.Columns...)
	}
	cfg.WithDefaults()
	r := file_batch.NewFlatFileReader[person.Record](cfg, person.MapFieldSet)
	if err := r.Open(ctx); err != nil {
		return 0, err
	}
	defer r.Close()
	var n int64
	for {
		if _, err := r.Read(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
	}
}

// ValidateLoad checks the sink table holds exactly the records of the source file.
func ValidateLoad(ctx context.Context, db *sql.DB, d dialect.Dialect, cfg ValidateConfig) error {
	cfg.withDefaults()
	table, err := d.Quote(cfg.Table)
	if err != nil {
		return err
	}
	expected, err := CountSourceRecords(ctx, cfg.Source)
	if err != nil {
		return fmt.Errorf("count source: %w", err)
	}
	var actual int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&actual); err != nil {
		return err
	}
	if expected != actual {
		return fmt.Errorf("row count mismatch in validation: source=%d sink=%d", expected, actual)
	}
	return nil
}
