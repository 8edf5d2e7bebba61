package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Supported driver names.
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Dialect captures the few places where the supported SQL drivers disagree.
type Dialect struct {
	Driver string
	// MaxPlaceholders is the bind variable limit of a single statement.
	MaxPlaceholders int
}

// For returns the dialect of a database/sql driver name.
func For(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", MySQL:
		return Dialect{Driver: MySQL, MaxPlaceholders: 65535}, nil
	case Postgres, "postgresql", "pq":
		return Dialect{Driver: Postgres, MaxPlaceholders: 65535}, nil
	case SQLite, "sqlite3":
		return Dialect{Driver: SQLite, MaxPlaceholders: 32766}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// ValidIdentifier reports whether s is safe to splice into a statement.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Quote validates and quotes a table or column name.
func (d Dialect) Quote(s string) (string, error) {
	if !identifierRe.MatchString(s) {
		return "", fmt.Errorf("invalid identifier: %s", s)
	}
	if d.Driver == Postgres {
		return `"` + s + `"`, nil
	}
	return "`" + s + "`", nil
}

// QuoteAll quotes every identifier in order.
func (d Dialect) QuoteAll(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		q, err := d.Quote(n)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Placeholder returns the bind variable for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.Driver == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites a statement written with '?' bind variables into the
// dialect's native form. Question marks inside single-quoted literals are kept.
func (d Dialect) Rebind(query string) string {
	if d.Driver != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
