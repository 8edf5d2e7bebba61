package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/emptyOVO/batchkit-go/batch"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func getenvDefault(name, d string) string {
	v := os.Getenv(name)
	if v == "" {
		return d
	}
	return v
}

func getenvInt(name string, d int) int {
	v := os.Getenv(name)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvBool(name string, d bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dbFromEnv overrides cfg with <prefix>_DRIVER, _HOST, _PORT, _USER,
// _PASSWORD, _DB, _PATH and _DSN.
func dbFromEnv(prefix string, cfg batch.DBConfig) batch.DBConfig {
	cfg.Driver = getenvDefault(prefix+"_DRIVER", cfg.Driver)
	cfg.Host = getenvDefault(prefix+"_HOST", cfg.Host)
	cfg.Port = getenvInt(prefix+"_PORT", cfg.Port)
	cfg.User = getenvDefault(prefix+"_USER", cfg.User)
	cfg.Password = getenvDefault(prefix+"_PASSWORD", cfg.Password)
	cfg.Database = getenvDefault(prefix+"_DB", cfg.Database)
	cfg.Path = getenvDefault(prefix+"_PATH", cfg.Path)
	cfg.DSN = getenvDefault(prefix+"_DSN", cfg.DSN)
	return cfg
}

type options struct {
	configPath string
	logLevel   string
	logJSON    bool
	chunkSize  int
	source     string
	runID      int64
	rows       int64
	every      int64
	create     bool
	benchTable bool
	replace    bool
	prepare    bool
	timeout    time.Duration
}

func (o *options) setupLogging() {
	level, err := log.ParseLevel(getenvDefault("BATCH_LOG_LEVEL", o.logLevel))
	must(err)
	log.SetLevel(level)
	if o.logJSON || getenvBool("BATCH_LOG_JSON", false) {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// jobConfig resolves file config, then environment, then flags.
func (o *options) jobConfig() batch.JobConfig {
	var cfg batch.JobConfig
	if o.configPath != "" {
		var err error
		cfg, err = batch.LoadJobConfig(o.configPath)
		must(err)
	}
	cfg.Name = getenvDefault("BATCH_JOB_NAME", cfg.Name)
	cfg.Step.Name = getenvDefault("BATCH_STEP_NAME", cfg.Step.Name)
	cfg.Step.ChunkSize = getenvInt("BATCH_CHUNK_SIZE", cfg.Step.ChunkSize)
	cfg.Step.SkipLimit = getenvInt("BATCH_SKIP_LIMIT", cfg.Step.SkipLimit)
	cfg.Reader.Path = getenvDefault("BATCH_SOURCE_PATH", cfg.Reader.Path)
	cfg.Reader.Delimiter = getenvDefault("BATCH_SOURCE_DELIMITER", cfg.Reader.Delimiter)
	if v := os.Getenv("BATCH_COMMENT_PREFIXES"); v != "" {
		cfg.Reader.Comments = strings.Split(v, ",")
	}
	cfg.Writer.Table = getenvDefault("BATCH_TARGET_TABLE", cfg.Writer.Table)
	cfg.LockDir = getenvDefault("BATCH_LOCK_DIR", cfg.LockDir)
	cfg.SinkDB = dbFromEnv("SINK_DB", cfg.SinkDB)
	cfg.RepositoryDB = dbFromEnv("REPO_DB", cfg.RepositoryDB)

	if o.chunkSize > 0 {
		cfg.Step.ChunkSize = o.chunkSize
	}
	if o.source != "" {
		cfg.Reader.Path = o.source
	}
	return cfg.WithDefaults()
}

func (o *options) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "batch",
		Short: "Chunked transactional load of person registrations",
		Long: `batch reads person registrations from a delimited file, skipping comment lines,
and inserts them into the sink table in chunks, one transaction per chunk.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			o.setupLogging()
		},
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", getenvDefault("BATCH_CONFIG", ""), "Job config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&o.logJSON, "log-json", false, "Log as JSON")
	root.PersistentFlags().IntVar(&o.chunkSize, "chunk-size", 0, "Items per transaction (default 200)")
	root.PersistentFlags().StringVar(&o.source, "source", "", "Source file path")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 2*time.Hour, "Overall timeout")

	root.AddCommand(newRunCmd(o), newCheckCmd(o), newPrepareCmd(o), newValidateCmd(o), newBenchmarkCmd(o))
	return root
}

func newRunCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.jobConfig()
			ctx, cancel := o.context()
			defer cancel()
			result, err := batch.RunFlow(ctx, cfg, batch.RunParams{RunID: o.runID})
			fmt.Println(formatResult(result))
			return err
		},
	}
	cmd.Flags().Int64Var(&o.runID, "run-id", int64(getenvInt("BATCH_RUN_ID", 0)), "Run id to execute or restart (0 = next)")
	return cmd
}

// formatResult renders one run, failed or not, as a single key=value line.
func formatResult(r batch.RunResult) string {
	var d time.Duration
	if !r.EndTime.IsZero() {
		d = r.EndTime.Sub(r.StartTime)
	}
	return fmt.Sprintf("job=%s run_id=%d status=%s read=%d written=%d duration=%s",
		r.JobName, r.RunID, r.Status, r.ReadCount, r.WriteCount, d)
}

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the job config only",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := batch.ValidateJobConfig(o.jobConfig()); err != nil {
				return err
			}
			fmt.Println("config check pass")
			return nil
		},
	}
}

func newPrepareCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Generate a synthetic source file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.jobConfig()
			ctx, cancel := o.context()
			defer cancel()
			if err := batch.PrepareSyntheticSource(ctx, prepareConfig(o, cfg)); err != nil {
				return err
			}
			if o.create {
				db, d, err := batch.OpenForApp(ctx, cfg.SinkDB)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := batch.PrepareSinkTable(ctx, db, d, cfg.Writer.Table); err != nil {
					return err
				}
			}
			fmt.Println("prepare done")
			return nil
		},
	}
	addPrepareFlags(cmd, o)
	cmd.Flags().BoolVar(&o.create, "create-table", getenvBool("CREATE_TABLE", false), "Create the sink table if missing")
	return cmd
}

func newValidateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Compare source records with sink rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.jobConfig()
			ctx, cancel := o.context()
			defer cancel()
			db, d, err := batch.OpenForApp(ctx, cfg.SinkDB)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := batch.ValidateLoad(ctx, db, d, batch.ValidateConfig{Source: cfg.Reader, Table: cfg.Writer.Table}); err != nil {
				return err
			}
			fmt.Println("validate pass")
			return nil
		},
	}
}

func newBenchmarkCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Prepare, run and validate, printing stage durations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.jobConfig()
			ctx, cancel := o.context()
			defer cancel()
			result, err := batch.RunBenchmark(ctx, batch.BenchmarkConfig{
				Job:         cfg,
				Prepare:     o.prepare,
				PrepareC:    prepareConfig(o, cfg),
				CreateTable: o.benchTable,
				Replace:     o.replace,
			})
			if err != nil {
				return err
			}
			fmt.Printf("prepare=%s run=%s validate=%s total=%s written=%d\n",
				result.PrepareDuration, result.RunDuration, result.ValidateDuration, result.TotalDuration, result.Run.WriteCount)
			return nil
		},
	}
	addPrepareFlags(cmd, o)
	cmd.Flags().BoolVar(&o.prepare, "prepare", getenvBool("PREPARE_DATA", false), "Generate the source file first")
	cmd.Flags().BoolVar(&o.benchTable, "create-table", getenvBool("CREATE_TABLE", true), "Create the sink table if missing")
	cmd.Flags().BoolVar(&o.replace, "replace", getenvBool("SINK_REPLACE", true), "Empty the sink table before the run")
	return cmd
}

func addPrepareFlags(cmd *cobra.Command, o *options) {
	cmd.Flags().Int64Var(&o.rows, "rows", int64(getenvInt("ROWS", 10000)), "Data lines to generate")
	cmd.Flags().Int64Var(&o.every, "comment-every", int64(getenvInt("COMMENT_EVERY", 100)), "Insert a comment line every N data lines (0 = never)")
}

func prepareConfig(o *options, cfg batch.JobConfig) batch.PrepareConfig {
	pc := batch.PrepareConfig{
		Path:         cfg.Reader.Path,
		Rows:         o.rows,
		CommentEvery: o.every,
		Delimiter:    cfg.Reader.Delimiter,
	}
	if len(cfg.Reader.Comments) > 0 {
		pc.CommentPrefix = cfg.Reader.Comments[0]
	}
	return pc
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
