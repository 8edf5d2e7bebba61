package sql_batch

import (
	"fmt"
	"strings"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
)

// Config configures the relational sink of a chunk step.
//
// With SQL empty the writer issues one multi-row INSERT INTO Table (Columns)
// per chunk. With SQL set, it is a statement template using :name parameters
// that is prepared once per chunk and executed once per item.
type Config struct {
	Table   string   `yaml:"table" json:"table"`
	Columns []string `yaml:"columns" json:"columns"`
	SQL     string   `yaml:"sql" json:"sql"`
}

func (c *Config) WithDefaults() {
	if c.Table == "" && c.SQL == "" {
		c.Table = "pessoa"
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SQL) != "" {
		_, names := parseNamed(c.SQL)
		if len(names) == 0 {
			return fmt.Errorf("writer.sql has no :name parameters")
		}
		return nil
	}
	if !dialect.ValidIdentifier(c.Table) {
		return fmt.Errorf("writer.table %q is not a valid identifier", c.Table)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("writer.columns is required")
	}
	for _, col := range c.Columns {
		if !dialect.ValidIdentifier(col) {
			return fmt.Errorf("writer.columns: %q is not a valid identifier", col)
		}
	}
	return nil
}

// Parameters returns the item attributes the writer binds, in bind order.
func (c Config) Parameters() []string {
	if strings.TrimSpace(c.SQL) != "" {
		_, names := parseNamed(c.SQL)
		return names
	}
	return append([]string(nil), c.Columns...)
}

// parseNamed replaces :name parameters with '?' and returns them in order.
// Quoted literals and '::' casts are left alone.
func parseNamed(query string) (string, []string) {
	var b strings.Builder
	var names []string
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
			b.WriteByte(c)
			continue
		}
		if c != ':' || inQuote {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(query) && query[i+1] == ':' {
			b.WriteString("::")
			i++
			continue
		}
		j := i + 1
		for j < len(query) && isIdentByte(query[j], j == i+1) {
			j++
		}
		if j == i+1 {
			b.WriteByte(c)
			continue
		}
		names = append(names, query[i+1:j])
		b.WriteByte('?')
		i = j - 1
	}
	return b.String(), names
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}
