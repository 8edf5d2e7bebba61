package batch

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	"github.com/emptyOVO/batchkit-go/batch/file_batch"
	"github.com/emptyOVO/batchkit-go/batch/sql_batch"
	"github.com/emptyOVO/batchkit-go/person"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DriverMemory keeps the job repository in process memory.
const DriverMemory = "memory"

// DBConfig defines a database connection. Driver is mysql (default),
// postgres or sqlite; sqlite uses Path. DSN, when set, is passed to the
// driver untouched.
type DBConfig struct {
	Driver   string            `yaml:"driver" json:"driver"`
	Host     string            `yaml:"host" json:"host"`
	Port     int               `yaml:"port" json:"port"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"password" json:"password"`
	Database string            `yaml:"database" json:"database"`
	Path     string            `yaml:"path" json:"path"`
	Params   map[string]string `yaml:"params" json:"params"`
	DSN      string            `yaml:"dsn" json:"dsn"`
}

func (c DBConfig) driver() string {
	if c.Driver == "" {
		return dialect.MySQL
	}
	d, err := dialect.For(c.Driver)
	if err != nil {
		return c.Driver
	}
	return d.Driver
}

func (c DBConfig) validate(prefix string) error {
	if c.Driver == DriverMemory {
		return nil
	}
	if _, err := dialect.For(c.Driver); err != nil {
		return fmt.Errorf("%s.driver: %w", prefix, err)
	}
	if c.DSN != "" {
		return nil
	}
	switch c.driver() {
	case dialect.SQLite:
		if c.Path == "" {
			return fmt.Errorf("%s.path is required for sqlite", prefix)
		}
	default:
		if c.User == "" || c.Database == "" {
			return fmt.Errorf("%s.user and %s.database are required for %s", prefix, prefix, c.driver())
		}
	}
	return nil
}

func sortedParams(defaults, overrides map[string]string) []string {
	params := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return parts
}

func (c DBConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	switch c.driver() {
	case dialect.SQLite:
		if c.Path == ":memory:" {
			return c.Path
		}
		return c.Path + "?" + strings.Join(sortedParams(map[string]string{
			"_pragma": "busy_timeout(5000)",
		}, c.Params), "&")
	case dialect.Postgres:
		port := c.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   host + ":" + strconv.Itoa(port),
			Path:   "/" + c.Database,
		}
		q := url.Values{}
		q.Set("sslmode", "disable")
		for k, v := range c.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		return u.String()
	default:
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			c.User,
			c.Password,
			host,
			port,
			c.Database,
			strings.Join(sortedParams(map[string]string{
				"parseTime":       "true",
				"charset":         "utf8mb4",
				"clientFoundRows": "true",
			}, c.Params), "&"),
		)
	}
}

// newDB prepares a connection pool without dialing.
func newDB(cfg DBConfig) (*sql.DB, dialect.Dialect, error) {
	if err := cfg.validate("db"); err != nil {
		return nil, dialect.Dialect{}, err
	}
	d, err := dialect.For(cfg.driver())
	if err != nil {
		return nil, dialect.Dialect{}, err
	}
	db, err := sql.Open(d.Driver, cfg.dsn())
	if err != nil {
		return nil, dialect.Dialect{}, err
	}
	if d.Driver == dialect.SQLite {
		// one writer at a time; also keeps :memory: on a single database
		db.SetMaxOpenConns(1)
	}
	return db, d, nil
}

func openDB(ctx context.Context, cfg DBConfig) (*sql.DB, dialect.Dialect, error) {
	db, d, err := newDB(cfg)
	if err != nil {
		return nil, d, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, d, err
	}
	return db, d, nil
}

// OpenForApp opens and pings a connection for custom flows.
func OpenForApp(ctx context.Context, cfg DBConfig) (*sql.DB, dialect.Dialect, error) {
	return openDB(ctx, cfg)
}

// Source/sink config aliases exposed by the batch package.
type ReaderConfig = file_batch.Config
type WriterConfig = sql_batch.Config

// JobConfig wires the person registration load: a flat file read in chunks
// and inserted into the sink table.
type JobConfig struct {
	Name         string       `yaml:"name" json:"name"`
	Step         StepConfig   `yaml:"step" json:"step"`
	Reader       ReaderConfig `yaml:"reader" json:"reader"`
	Writer       WriterConfig `yaml:"writer" json:"writer"`
	SinkDB       DBConfig     `yaml:"sink_db" json:"sink_db"`
	RepositoryDB DBConfig     `yaml:"repository_db" json:"repository_db"`
	LockDir      string       `yaml:"lock_dir" json:"lock_dir"`
}

func (c *JobConfig) withDefaults() {
	if c.Name == "" {
		c.Name = "job01"
	}
	c.Step.withDefaults()
	if len(c.Reader.Names) == 0 {
		c.Reader.Names = append([]string(nil), person.Columns...)
	}
	c.Reader.WithDefaults()
	if len(c.Writer.Columns) == 0 && c.Writer.SQL == "" {
		c.Writer.Columns = append([]string(nil), c.Reader.Names...)
	}
	c.Writer.WithDefaults()
	if c.RepositoryDB.Driver == "" && c.RepositoryDB.DSN == "" && c.RepositoryDB.Database == "" {
		c.RepositoryDB.Driver = dialect.SQLite
		if c.RepositoryDB.Path == "" {
			c.RepositoryDB.Path = "batch-repository.db"
		}
	}
}

// WithDefaults returns a copy of c with every default filled in.
func (c JobConfig) WithDefaults() JobConfig {
	c.withDefaults()
	return c
}

// PrepareConfig configures synthetic source file generation for benchmarking.
type PrepareConfig struct {
	Path          string
	Rows          int64
	CommentEvery  int64
	CommentPrefix string
	Delimiter     string
}

func (c *PrepareConfig) withDefaults() {
	if c.Path == "" {
		c.Path = "servers/data/cadastros.csv"
	}
	if c.Rows <= 0 {
		c.Rows = 10000
	}
	if c.CommentEvery < 0 {
		c.CommentEvery = 0
	}
	if c.CommentPrefix == "" {
		c.CommentPrefix = "---"
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
}

// ValidateConfig compares the source file with the sink table.
type ValidateConfig struct {
	Source ReaderConfig
	Table  string
}

func (c *ValidateConfig) withDefaults() {
	if len(c.Source.Names) == 0 {
		c.Source.Names = append([]string(nil), person.Columns...)
	}
	c.Source.WithDefaults()
	if c.Table == "" {
		c.Table = "pessoa"
	}
}
