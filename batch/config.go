package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	"github.com/emptyOVO/batchkit-go/person"
	"gopkg.in/yaml.v3"
)

// LoadJobConfig reads a YAML (.yaml, .yml) or JSON job config. Unknown
// fields are rejected.
func LoadJobConfig(path string) (JobConfig, error) {
	var cfg JobConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// ValidateJobConfig fails fast on anything the job cannot start with.
func ValidateJobConfig(cfg JobConfig) error {
	cfg.withDefaults()

	if !dialect.ValidIdentifier(cfg.Name) {
		return fmt.Errorf("name %q must be a simple identifier", cfg.Name)
	}
	if !dialect.ValidIdentifier(cfg.Step.Name) {
		return fmt.Errorf("step.name %q must be a simple identifier", cfg.Step.Name)
	}
	if cfg.Step.SkipLimit < 0 {
		return fmt.Errorf("step.skip_limit must be >= 0")
	}
	if err := cfg.Reader.Validate(); err != nil {
		return err
	}
	for _, c := range person.Columns {
		if !contains(cfg.Reader.Names, c) {
			return fmt.Errorf("reader.names must include %q", c)
		}
	}
	if err := cfg.Writer.Validate(); err != nil {
		return err
	}
	for _, p := range cfg.Writer.Parameters() {
		if !person.Known(p) {
			return fmt.Errorf("writer parameter %q is not a record attribute", p)
		}
	}
	if cfg.Writer.SQL == "" {
		if len(cfg.Writer.Columns) != len(cfg.Reader.Names) {
			return fmt.Errorf("writer.columns has %d entries but reader.names has %d", len(cfg.Writer.Columns), len(cfg.Reader.Names))
		}
		for i := range cfg.Writer.Columns {
			if cfg.Writer.Columns[i] != cfg.Reader.Names[i] {
				return fmt.Errorf("writer.columns[%d]=%q does not match reader.names[%d]=%q", i, cfg.Writer.Columns[i], i, cfg.Reader.Names[i])
			}
		}
	}
	if cfg.SinkDB.Driver == DriverMemory {
		return fmt.Errorf("sink_db.driver %q is only valid for the job repository", DriverMemory)
	}
	if err := cfg.SinkDB.validate("sink_db"); err != nil {
		return err
	}
	if err := cfg.RepositoryDB.validate("repository_db"); err != nil {
		return err
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
