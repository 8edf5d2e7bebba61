package file_batch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Config configures a delimited flat file source.
type Config struct {
	Path        string   `yaml:"path" json:"path"`
	Comments    []string `yaml:"comments" json:"comments"`
	Delimiter   string   `yaml:"delimiter" json:"delimiter"`
	Names       []string `yaml:"names" json:"names"`
	LinesToSkip int      `yaml:"lines_to_skip" json:"lines_to_skip"`
}

func (c *Config) WithDefaults() {
	if c.Path == "" {
		c.Path = "servers/data/cadastros.csv"
	}
	if c.Comments == nil {
		c.Comments = []string{"---"}
	}
	if c.Delimiter == "" {
		c.Delimiter = ","
	}
}

// Validate checks the fields a reader cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("reader.path is required")
	}
	if len(c.Names) == 0 {
		return fmt.Errorf("reader.names is required")
	}
	seen := make(map[string]bool, len(c.Names))
	for _, n := range c.Names {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("reader.names contains an empty name")
		}
		if seen[n] {
			return fmt.Errorf("reader.names contains duplicate name %q", n)
		}
		seen[n] = true
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		return fmt.Errorf("reader.delimiter must be a single character, got %q", c.Delimiter)
	}
	if r, _ := utf8.DecodeRuneInString(c.Delimiter); r == '"' || r == '\r' || r == '\n' {
		return fmt.Errorf("reader.delimiter %q is not allowed", c.Delimiter)
	}
	for _, p := range c.Comments {
		if p == "" {
			return fmt.Errorf("reader.comments contains an empty prefix")
		}
	}
	if c.LinesToSkip < 0 {
		return fmt.Errorf("reader.lines_to_skip must be >= 0")
	}
	return nil
}

func (c Config) delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Delimiter)
	return r
}
