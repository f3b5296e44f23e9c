// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats implements the RushTI stats store (C4): a single-writer,
// embedded, durable record of per-signature task durations and run
// summaries, backed by SQLite through sqlx.
package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/rushti/rushti/internal/log"
	"github.com/rushti/rushti/internal/stats/migrations"
)

// Store is the durable stats backend. SQLite serializes writes, so the
// connection pool is capped at one open connection; concurrent callers
// (the scheduler records results from its worker goroutines) wait their
// turn for that connection.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Run is one row of the runs relation: a per-run summary.
type Run struct {
	RunID        string
	Workflow     string
	StartedAt    time.Time
	EndedAt      *time.Time
	WallClockMs  *int64
	Status       string
	TaskCount    int
	SuccessCount int
	FailureCount int
	MaxWorkers   int
	TaskfilePath string
	TaskfileHash string
}

// dbRun is the sqlx-scannable shape of the runs table. modernc.org/sqlite
// stores timestamps as TEXT, so time.Time columns are carried as strings
// here and converted at the API boundary rather than relying on driver
// magic to parse them.
type dbRun struct {
	RunID        string         `db:"run_id"`
	Workflow     string         `db:"workflow"`
	StartedAt    string         `db:"started_at"`
	EndedAt      sql.NullString `db:"ended_at"`
	WallClockMs  sql.NullInt64  `db:"wall_clock_ms"`
	Status       string         `db:"status"`
	TaskCount    int            `db:"task_count"`
	SuccessCount int            `db:"success_count"`
	FailureCount int            `db:"failure_count"`
	MaxWorkers   int            `db:"max_workers"`
	TaskfilePath sql.NullString `db:"taskfile_path"`
	TaskfileHash sql.NullString `db:"taskfile_hash"`
}

func (r *dbRun) toRun() *Run {
	out := &Run{
		RunID:        r.RunID,
		Workflow:     r.Workflow,
		Status:       r.Status,
		TaskCount:    r.TaskCount,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		MaxWorkers:   r.MaxWorkers,
		TaskfilePath: r.TaskfilePath.String,
		TaskfileHash: r.TaskfileHash.String,
	}
	out.StartedAt, _ = time.Parse(time.RFC3339, r.StartedAt)
	if r.EndedAt.Valid {
		if t, err := time.Parse(time.RFC3339, r.EndedAt.String); err == nil {
			out.EndedAt = &t
		}
	}
	if r.WallClockMs.Valid {
		ms := r.WallClockMs.Int64
		out.WallClockMs = &ms
	}
	return out
}

// TaskResult is one row of the task_results relation: a single task
// execution, keyed by its signature for history-based estimation.
type TaskResult struct {
	RunID           string
	Workflow        string
	TaskID          string
	Signature       string
	Instance        string
	Process         string
	Parameters      map[string]string
	Predecessors    []string
	Stage           string
	Success         bool
	StartedAt       time.Time
	EndedAt         time.Time
	DurationMs      int64
	RetryCount      int
	Error           string
	ConcurrentCount int
}

type dbTaskResult struct {
	RunID           string         `db:"run_id"`
	Workflow        string         `db:"workflow"`
	TaskID          string         `db:"task_id"`
	Signature       string         `db:"signature"`
	Instance        string         `db:"instance"`
	Process         string         `db:"process"`
	Parameters      sql.NullString `db:"parameters"`
	Predecessors    sql.NullString `db:"predecessors"`
	Stage           sql.NullString `db:"stage"`
	Success         bool           `db:"success"`
	StartedAt       string         `db:"started_at"`
	EndedAt         string         `db:"ended_at"`
	DurationMs      int64          `db:"duration_ms"`
	RetryCount      int            `db:"retry_count"`
	Error           sql.NullString `db:"error"`
	ConcurrentCount int            `db:"concurrent_count"`
}

func (r *dbTaskResult) toTaskResult() *TaskResult {
	out := &TaskResult{
		RunID:           r.RunID,
		Workflow:        r.Workflow,
		TaskID:          r.TaskID,
		Signature:       r.Signature,
		Instance:        r.Instance,
		Process:         r.Process,
		Stage:           r.Stage.String,
		Success:         r.Success,
		DurationMs:      r.DurationMs,
		RetryCount:      r.RetryCount,
		Error:           r.Error.String,
		ConcurrentCount: r.ConcurrentCount,
	}
	out.StartedAt, _ = time.Parse(time.RFC3339, r.StartedAt)
	out.EndedAt, _ = time.Parse(time.RFC3339, r.EndedAt)
	if r.Parameters.Valid {
		_ = json.Unmarshal([]byte(r.Parameters.String), &out.Parameters)
	}
	if r.Predecessors.Valid {
		_ = json.Unmarshal([]byte(r.Predecessors.String), &out.Predecessors)
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Open opens (creating if necessary) the SQLite database at path, applies
// pending goose migrations, and purges rows older than retention. A zero
// retention disables the purge.
func Open(ctx context.Context, path string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening stats database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to stats database %s: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring stats database: %w", err)
		}
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying stats migrations: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if retention > 0 {
		if err := s.purgeOlderThan(ctx, retention); err != nil {
			if logger != nil {
				logger.WarnContext(ctx, "stats retention purge failed", log.EventKey, "stats_retention_failed", "error", err)
			}
		}
	}
	return s, nil
}

func (s *Store) purgeOlderThan(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("purging old runs: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRunStart inserts the initial row for a run, before any tasks run.
func (s *Store) RecordRunStart(ctx context.Context, run *Run) error {
	row := dbRun{
		RunID:        run.RunID,
		Workflow:     run.Workflow,
		StartedAt:    run.StartedAt.Format(time.RFC3339),
		Status:       run.Status,
		MaxWorkers:   run.MaxWorkers,
		TaskfilePath: nullString(run.TaskfilePath),
		TaskfileHash: nullString(run.TaskfileHash),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, workflow, started_at, status, max_workers, taskfile_path, taskfile_hash)
		VALUES (:run_id, :workflow, :started_at, :status, :max_workers, :taskfile_path, :taskfile_hash)
	`, row)
	if err != nil {
		s.logWriteFailure(ctx, "run_start", err)
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// RecordRunEnd finalizes a run row with end-of-run summary fields. A
// write failure here is logged, never returned as fatal to the caller's
// scheduling loop — persistence failures must not affect run outcome.
func (s *Store) RecordRunEnd(ctx context.Context, runID, status string, wallClock time.Duration, taskCount, successCount, failureCount int) {
	endedAt := time.Now().Format(time.RFC3339)
	wallMs := wallClock.Milliseconds()
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET ended_at = ?, wall_clock_ms = ?, status = ?, task_count = ?, success_count = ?, failure_count = ?
		WHERE run_id = ?
	`, endedAt, wallMs, status, taskCount, successCount, failureCount, runID)
	if err != nil {
		s.logWriteFailure(ctx, "run_end", err)
	}
}

// RecordTaskResult inserts one task_results row. Failures are logged and
// swallowed: a best-effort write must never block scheduling progress.
func (s *Store) RecordTaskResult(ctx context.Context, result *TaskResult, parameters map[string]string, predecessors []string) {
	paramsJSON, _ := json.Marshal(parameters)
	predsJSON, _ := json.Marshal(predecessors)

	row := dbTaskResult{
		RunID:           result.RunID,
		Workflow:        result.Workflow,
		TaskID:          result.TaskID,
		Signature:       result.Signature,
		Instance:        result.Instance,
		Process:         result.Process,
		Parameters:      nullString(string(paramsJSON)),
		Predecessors:    nullString(string(predsJSON)),
		Stage:           nullString(result.Stage),
		Success:         result.Success,
		StartedAt:       result.StartedAt.Format(time.RFC3339),
		EndedAt:         result.EndedAt.Format(time.RFC3339),
		DurationMs:      result.DurationMs,
		RetryCount:      result.RetryCount,
		Error:           nullString(result.Error),
		ConcurrentCount: result.ConcurrentCount,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_results (
			run_id, workflow, task_id, signature, instance, process, parameters,
			predecessors, stage, success, started_at, ended_at, duration_ms,
			retry_count, error, concurrent_count
		) VALUES (
			:run_id, :workflow, :task_id, :signature, :instance, :process, :parameters,
			:predecessors, :stage, :success, :started_at, :ended_at, :duration_ms,
			:retry_count, :error, :concurrent_count
		)
	`, row)
	if err != nil {
		s.logWriteFailure(ctx, "task_result", err)
	}
}

func (s *Store) logWriteFailure(ctx context.Context, kind string, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "stats write failed", log.EventKey, "stats_write_failed", "kind", kind, "error", err)
	}
}

// LastDurations returns the durations (newest first) of up to limit
// successful executions matching signature.
func (s *Store) LastDurations(ctx context.Context, signature string, limit int) ([]time.Duration, error) {
	var millis []int64
	err := s.db.SelectContext(ctx, &millis, `
		SELECT duration_ms FROM task_results
		WHERE signature = ? AND success = 1
		ORDER BY started_at DESC
		LIMIT ?
	`, signature, limit)
	if err != nil {
		return nil, fmt.Errorf("querying last durations for signature %s: %w", signature, err)
	}
	durations := make([]time.Duration, len(millis))
	for i, ms := range millis {
		durations[i] = time.Duration(ms) * time.Millisecond
	}
	return durations, nil
}

// Signatures returns every distinct task signature observed for workflow.
func (s *Store) Signatures(ctx context.Context, workflow string) ([]string, error) {
	var sigs []string
	err := s.db.SelectContext(ctx, &sigs, `
		SELECT DISTINCT signature FROM task_results WHERE workflow = ? ORDER BY signature
	`, workflow)
	if err != nil {
		return nil, fmt.Errorf("querying signatures for workflow %s: %w", workflow, err)
	}
	return sigs, nil
}

// RunRows returns every task_results row for runID, ordered by start time.
func (s *Store) RunRows(ctx context.Context, runID string) ([]*TaskResult, error) {
	var rows []dbTaskResult
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM task_results WHERE run_id = ? ORDER BY started_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying rows for run %s: %w", runID, err)
	}
	out := make([]*TaskResult, len(rows))
	for i := range rows {
		out[i] = rows[i].toTaskResult()
	}
	return out, nil
}

// GetRun returns the run summary row for runID.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var row dbRun
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE run_id = ?`, runID); err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return row.toRun(), nil
}

// LatestSuccessfulRun returns the run_id of workflow's most recently
// started run whose status is "completed", for callers (the optimizer CLI)
// that want "the last good run" without naming a run_id explicitly.
func (s *Store) LatestSuccessfulRun(ctx context.Context, workflow string) (string, error) {
	var runID string
	err := s.db.GetContext(ctx, &runID, `
		SELECT run_id FROM runs
		WHERE workflow = ? AND status = 'completed'
		ORDER BY started_at DESC
		LIMIT 1
	`, workflow)
	if err != nil {
		return "", fmt.Errorf("querying latest successful run for workflow %s: %w", workflow, err)
	}
	return runID, nil
}

// WorkerAggregate summarizes every run that used a given max_workers
// setting: the per-worker-level view used by the contention optimizer.
type WorkerAggregate struct {
	MaxWorkers     int     `db:"max_workers"`
	RunCount       int     `db:"run_count"`
	AvgWallClockMs float64 `db:"avg_wall_clock_ms"`
	AvgDurationMs  float64 `db:"avg_duration_ms"`
}

// WorkerAggregates groups runs of workflow by max_workers and reports the
// average wall clock and per-task duration observed at each level.
func (s *Store) WorkerAggregates(ctx context.Context, workflow string) ([]WorkerAggregate, error) {
	var aggregates []WorkerAggregate
	err := s.db.SelectContext(ctx, &aggregates, `
		SELECT
			r.max_workers AS max_workers,
			COUNT(DISTINCT r.run_id) AS run_count,
			AVG(r.wall_clock_ms) AS avg_wall_clock_ms,
			AVG(t.duration_ms) AS avg_duration_ms
		FROM runs r
		JOIN task_results t ON t.run_id = r.run_id
		WHERE r.workflow = ? AND r.wall_clock_ms IS NOT NULL
		GROUP BY r.max_workers
		ORDER BY r.max_workers ASC
	`, workflow)
	if err != nil {
		return nil, fmt.Errorf("querying worker aggregates for workflow %s: %w", workflow, err)
	}
	return aggregates, nil
}

// ConcurrentCountDistribution returns the sorted list of concurrent-count
// observations recorded for every task in runID.
func (s *Store) ConcurrentCountDistribution(ctx context.Context, runID string) ([]int, error) {
	var counts []int
	err := s.db.SelectContext(ctx, &counts, `
		SELECT concurrent_count FROM task_results WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying concurrent-count distribution for run %s: %w", runID, err)
	}
	sort.Ints(counts)
	return counts, nil
}

// ConcurrentCountAt returns the number of task_results rows for runID whose
// [started_at, ended_at] interval contains at. Provided for offline
// analysis of historical runs; the live scheduler tracks its own
// in-process running count rather than querying this per dispatch.
func (s *Store) ConcurrentCountAt(ctx context.Context, runID string, at time.Time) (int, error) {
	var count int
	atStr := at.Format(time.RFC3339)
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM task_results
		WHERE run_id = ? AND started_at <= ? AND ended_at >= ?
	`, runID, atStr, atStr)
	if err != nil {
		return 0, fmt.Errorf("querying concurrent count for run %s: %w", runID, err)
	}
	return count, nil
}
