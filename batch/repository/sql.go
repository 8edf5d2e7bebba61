package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/emptyOVO/batchkit-go/batch/dialect"
	"github.com/google/uuid"
)

// SQL stores run metadata in batch_job_instance, batch_job_execution and
// batch_step_execution. The caller owns db.
type SQL struct {
	db *sql.DB
	d  dialect.Dialect
}

// NewSQL creates the metadata tables if they are missing.
func NewSQL(ctx context.Context, db *sql.DB, d dialect.Dialect) (*SQL, error) {
	r := &SQL{db: db, d: d}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate job repository: %w", err)
	}
	return r, nil
}

func (r *SQL) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS batch_job_instance (
			job_instance_id VARCHAR(64) NOT NULL PRIMARY KEY,
			job_name VARCHAR(100) NOT NULL,
			run_id BIGINT NOT NULL,
			create_time TIMESTAMP NULL,
			UNIQUE (job_name, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_job_execution (
			job_execution_id VARCHAR(64) NOT NULL PRIMARY KEY,
			job_instance_id VARCHAR(64) NOT NULL,
			attempt INTEGER NOT NULL,
			status VARCHAR(20) NOT NULL,
			start_time TIMESTAMP NULL,
			end_time TIMESTAMP NULL,
			read_count BIGINT NOT NULL DEFAULT 0,
			write_count BIGINT NOT NULL DEFAULT 0,
			exit_message TEXT,
			UNIQUE (job_instance_id, attempt)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_step_execution (
			step_execution_id VARCHAR(64) NOT NULL PRIMARY KEY,
			job_execution_id VARCHAR(64) NOT NULL,
			step_name VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			read_count BIGINT NOT NULL DEFAULT 0,
			write_count BIGINT NOT NULL DEFAULT 0,
			commit_count BIGINT NOT NULL DEFAULT 0,
			rollback_count BIGINT NOT NULL DEFAULT 0,
			skip_count BIGINT NOT NULL DEFAULT 0,
			read_position BIGINT NOT NULL DEFAULT 0,
			start_time TIMESTAMP NULL,
			end_time TIMESTAMP NULL,
			exit_message TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := r.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQL) q(query string) string { return r.d.Rebind(query) }

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (r *SQL) NextRunID(ctx context.Context, jobName string) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT COALESCE(MAX(run_id), 0) FROM batch_job_instance WHERE job_name = ?`), jobName,
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *SQL) GetOrCreateInstance(ctx context.Context, jobName string, runID int64) (*JobInstance, error) {
	inst := &JobInstance{JobName: jobName, RunID: runID}
	var created sql.NullTime
	err := r.db.QueryRowContext(ctx,
		r.q(`SELECT job_instance_id, create_time FROM batch_job_instance WHERE job_name = ? AND run_id = ?`),
		jobName, runID,
	).Scan(&inst.ID, &created)
	if err == nil {
		inst.CreateTime = created.Time
		return inst, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	inst.ID = uuid.New().String()
	inst.CreateTime = time.Now().UTC()
	_, err = r.db.ExecContext(ctx,
		r.q(`INSERT INTO batch_job_instance (job_instance_id, job_name, run_id, create_time) VALUES (?, ?, ?, ?)`),
		inst.ID, inst.JobName, inst.RunID, inst.CreateTime,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

const jobExecutionColumns = `je.job_execution_id, je.job_instance_id, ji.job_name, ji.run_id, je.attempt, je.status,
	je.start_time, je.end_time, je.read_count, je.write_count, je.exit_message`

func (r *SQL) LastJobExecution(ctx context.Context, instanceID string) (*JobExecution, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+jobExecutionColumns+`
		FROM batch_job_execution je JOIN batch_job_instance ji ON ji.job_instance_id = je.job_instance_id
		WHERE je.job_instance_id = ? ORDER BY je.attempt DESC LIMIT 1`), instanceID)

	var e JobExecution
	var start, end sql.NullTime
	var msg sql.NullString
	err := row.Scan(&e.ID, &e.InstanceID, &e.JobName, &e.RunID, &e.Attempt, &e.Status,
		&start, &end, &e.ReadCount, &e.WriteCount, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.StartTime, e.EndTime, e.ExitMessage = start.Time, end.Time, msg.String
	return &e, nil
}

func (r *SQL) CreateJobExecution(ctx context.Context, exec *JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO batch_job_execution (job_execution_id, job_instance_id, attempt, status, start_time, end_time,
		 read_count, write_count, exit_message) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.InstanceID, exec.Attempt, string(exec.Status), nullTime(exec.StartTime), nullTime(exec.EndTime),
		exec.ReadCount, exec.WriteCount, exec.ExitMessage,
	)
	return err
}

func (r *SQL) UpdateJobExecution(ctx context.Context, exec *JobExecution) error {
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE batch_job_execution SET status=?, start_time=?, end_time=?, read_count=?, write_count=?, exit_message=?
		 WHERE job_execution_id=?`),
		string(exec.Status), nullTime(exec.StartTime), nullTime(exec.EndTime),
		exec.ReadCount, exec.WriteCount, exec.ExitMessage, exec.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "job execution", exec.ID)
}

func (r *SQL) CreateStepExecution(ctx context.Context, exec *StepExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		r.q(`INSERT INTO batch_step_execution (step_execution_id, job_execution_id, step_name, status,
		 read_count, write_count, commit_count, rollback_count, skip_count, read_position, start_time, end_time, exit_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		exec.ID, exec.JobExecutionID, exec.StepName, string(exec.Status),
		exec.ReadCount, exec.WriteCount, exec.CommitCount, exec.RollbackCount, exec.SkipCount, exec.ReadPosition,
		nullTime(exec.StartTime), nullTime(exec.EndTime), exec.ExitMessage,
	)
	return err
}

func (r *SQL) UpdateStepExecution(ctx context.Context, exec *StepExecution) error {
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE batch_step_execution SET status=?, read_count=?, write_count=?, commit_count=?, rollback_count=?,
		 skip_count=?, read_position=?, start_time=?, end_time=?, exit_message=? WHERE step_execution_id=?`),
		string(exec.Status), exec.ReadCount, exec.WriteCount, exec.CommitCount, exec.RollbackCount,
		exec.SkipCount, exec.ReadPosition, nullTime(exec.StartTime), nullTime(exec.EndTime), exec.ExitMessage, exec.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, "step execution", exec.ID)
}

const stepExecutionColumns = `se.step_execution_id, se.job_execution_id, se.step_name, se.status, se.read_count, se.write_count,
	se.commit_count, se.rollback_count, se.skip_count, se.read_position, se.start_time, se.end_time, se.exit_message`

type scanner interface {
	Scan(dest ...any) error
}

func scanStepExecution(s scanner) (StepExecution, error) {
	var e StepExecution
	var start, end sql.NullTime
	var msg sql.NullString
	err := s.Scan(&e.ID, &e.JobExecutionID, &e.StepName, &e.Status, &e.ReadCount, &e.WriteCount,
		&e.CommitCount, &e.RollbackCount, &e.SkipCount, &e.ReadPosition, &start, &end, &msg)
	e.StartTime, e.EndTime, e.ExitMessage = start.Time, end.Time, msg.String
	return e, err
}

func (r *SQL) LastStepExecution(ctx context.Context, instanceID, stepName string) (*StepExecution, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+stepExecutionColumns+`
		FROM batch_step_execution se JOIN batch_job_execution je ON je.job_execution_id = se.job_execution_id
		WHERE je.job_instance_id = ? AND se.step_name = ? ORDER BY je.attempt DESC LIMIT 1`), instanceID, stepName)
	e, err := scanStepExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *SQL) StepExecutions(ctx context.Context, jobExecutionID string) ([]StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`SELECT `+stepExecutionColumns+`
		FROM batch_step_execution se WHERE se.job_execution_id = ? ORDER BY se.start_time ASC`), jobExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepExecution
	for rows.Next() {
		e, err := scanStepExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
