package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datalith/procflow/internal/model"

	_ "modernc.org/sqlite"
)

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS batches (
    id             TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    process_name   TEXT NOT NULL,
    tenant         TEXT NOT NULL,
    user_email     TEXT NOT NULL,
    user_role      TEXT NOT NULL,
    parameters     TEXT NOT NULL,
    filesets       TEXT NOT NULL,
    replace_mode   INTEGER NOT NULL,
    created_at     DATETIME NOT NULL
)`

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id                   TEXT PRIMARY KEY,
    batch_id             TEXT NOT NULL,
    correlation_id       TEXT NOT NULL,
    batch_correlation_id TEXT NOT NULL,
    tenant               TEXT NOT NULL,
    user_email           TEXT NOT NULL,
    process_business_id  TEXT NOT NULL,
    process_name         TEXT NOT NULL,
    inputs               TEXT NOT NULL,
    expected_ms          INTEGER NOT NULL,
    created_at           DATETIME NOT NULL,
    deadline             DATETIME NOT NULL,
    steps                TEXT NOT NULL,
    current_status       TEXT NOT NULL,
    version              INTEGER NOT NULL,
    last_updated         DATETIME NOT NULL
)`

const createOutputFilesTable = `
CREATE TABLE IF NOT EXISTS output_files (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    object_key   TEXT NOT NULL,
    name         TEXT NOT NULL,
    bytes        INTEGER NOT NULL,
    checksum     TEXT,
    downloaded   INTEGER NOT NULL,
    deleted      INTEGER NOT NULL,
    created_at   DATETIME NOT NULL
)`

const executionColumns = `id, batch_id, correlation_id, batch_correlation_id,
	tenant, user_email, process_business_id, process_name, inputs,
	expected_ms, created_at, deadline, steps, current_status, version, last_updated`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createBatchesTable, createExecutionsTable, createOutputFilesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBatch inserts a new batch record and marks the aggregate persisted.
func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	params, err := json.Marshal(b.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	filesets, err := json.Marshal(b.Filesets)
	if err != nil {
		return fmt.Errorf("marshal filesets: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (
			id, correlation_id, process_name, tenant, user_email, user_role,
			parameters, filesets, replace_mode, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.CorrelationID, b.ProcessName, b.Tenant, b.User, b.UserRole,
		string(params), string(filesets), b.ReplaceMode, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	b.Persisted = true
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b := &model.Batch{}
	var params, filesets string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, correlation_id, process_name, tenant, user_email, user_role,
			parameters, filesets, replace_mode, created_at
		FROM batches WHERE id = ?`, id,
	).Scan(
		&b.ID, &b.CorrelationID, &b.ProcessName, &b.Tenant, &b.User, &b.UserRole,
		&params, &filesets, &b.ReplaceMode, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &b.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(filesets), &b.Filesets); err != nil {
		return nil, fmt.Errorf("unmarshal filesets: %w", err)
	}

	b.Persisted = true
	return b, nil
}

// CreateExecution inserts a new execution record with its (possibly empty)
// step log.
func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, batch_id, correlation_id, batch_correlation_id, tenant,
			user_email, process_business_id, process_name, inputs, expected_ms,
			created_at, deadline, steps, current_status, version, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BatchID, e.CorrelationID, e.BatchCorrelationID, e.Tenant,
		e.User, e.ProcessBusinessID, e.ProcessName, string(inputs),
		e.ExpectedDuration.Milliseconds(), e.CreatedAt, e.Deadline,
		string(steps), e.CurrentStatus(), e.Version, e.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	e, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// UpdateExecutionSteps replaces the execution's step log and refreshes the
// denormalized current status. The caller (the notifier) serializes
// concurrent appends per execution.
func (s *SQLiteStore) UpdateExecutionSteps(ctx context.Context, id string, steps []model.Step) error {
	raw, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	status := model.StatusCreated
	if len(steps) > 0 {
		status = steps[len(steps)-1].Status
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE executions
		SET steps = ?, current_status = ?, version = version + 1, last_updated = ?
		WHERE id = ?`,
		string(raw), status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update execution steps: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TimedOutExecutions returns executions whose deadline has elapsed and
// whose latest step is non-terminal.
func (s *SQLiteStore) TimedOutExecutions(ctx context.Context, now time.Time) ([]*model.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		WHERE deadline < ? AND current_status IN (?, ?, ?)
		ORDER BY deadline ASC`,
		now, model.StatusCreated, model.StatusPrepare, model.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("query timed out executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// CountExecutions counts executions matching the query.
func (s *SQLiteStore) CountExecutions(ctx context.Context, q ExecutionQuery) (int, error) {
	where, args := buildExecutionWhere(q)

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM executions"+where, args...,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return total, nil
}

// SearchExecutions returns a page of executions matching the query,
// newest first.
func (s *SQLiteStore) SearchExecutions(ctx context.Context, q ExecutionQuery, limit, offset int) ([]*model.Execution, error) {
	where, args := buildExecutionWhere(q)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions`+where+
			` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("search executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// CreateOutputFile inserts a new output-file record.
func (s *SQLiteStore) CreateOutputFile(ctx context.Context, f *model.OutputFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO output_files (
			id, execution_id, object_key, name, bytes, checksum,
			downloaded, deleted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ExecutionID, f.ObjectKey, f.Name, f.Bytes, f.Checksum,
		f.Downloaded, f.Deleted, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert output file: %w", err)
	}
	return nil
}

// OutputFilesByID retrieves output files by id. Unknown ids are skipped.
func (s *SQLiteStore) OutputFilesByID(ctx context.Context, ids []string) ([]*model.OutputFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, object_key, name, bytes, checksum,
			downloaded, deleted, created_at
		FROM output_files WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query output files: %w", err)
	}
	defer rows.Close()

	return collectOutputFiles(rows)
}

// OutputFilesByExecution retrieves every output file the execution
// produced, oldest first.
func (s *SQLiteStore) OutputFilesByExecution(ctx context.Context, executionID string) ([]*model.OutputFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, object_key, name, bytes, checksum,
			downloaded, deleted, created_at
		FROM output_files WHERE execution_id = ? ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query execution output files: %w", err)
	}
	defer rows.Close()

	return collectOutputFiles(rows)
}

// SaveOutputFile persists the mutable flags of an output file.
func (s *SQLiteStore) SaveOutputFile(ctx context.Context, f *model.OutputFile) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE output_files SET downloaded = ?, deleted = ? WHERE id = ?",
		f.Downloaded, f.Deleted, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update output file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DownloadedNotDeleted returns the files eligible for the cleanup sweep.
func (s *SQLiteStore) DownloadedNotDeleted(ctx context.Context) ([]*model.OutputFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, object_key, name, bytes, checksum,
			downloaded, deleted, created_at
		FROM output_files WHERE downloaded = 1 AND deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("query downloaded output files: %w", err)
	}
	defer rows.Close()

	return collectOutputFiles(rows)
}

// buildExecutionWhere translates an ExecutionQuery into a WHERE clause.
func buildExecutionWhere(q ExecutionQuery) (string, []any) {
	var conds []string
	var args []any

	if q.Tenant != "" {
		conds = append(conds, "tenant = ?")
		args = append(args, q.Tenant)
	}
	if len(q.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(q.Statuses))
		conds = append(conds, "current_status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range q.Statuses {
			args = append(args, st)
		}
	}
	if q.ProcessBusinessID != "" {
		conds = append(conds, "process_business_id = ?")
		args = append(args, q.ProcessBusinessID)
	}
	if q.UserEmail != "" {
		conds = append(conds, "user_email = ?")
		args = append(args, q.UserEmail)
	}
	if q.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *q.From)
	}
	if q.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *q.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanExecution(scan func(...any) error) (*model.Execution, error) {
	e := &model.Execution{}
	var inputs, steps string
	var expectedMS int64

	err := scan(
		&e.ID, &e.BatchID, &e.CorrelationID, &e.BatchCorrelationID,
		&e.Tenant, &e.User, &e.ProcessBusinessID, &e.ProcessName, &inputs,
		&expectedMS, &e.CreatedAt, &e.Deadline, &steps, new(string),
		&e.Version, &e.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	e.ExpectedDuration = time.Duration(expectedMS) * time.Millisecond
	if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &e.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return e, nil
}

func collectExecutions(rows *sql.Rows) ([]*model.Execution, error) {
	var execs []*model.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

func collectOutputFiles(rows *sql.Rows) ([]*model.OutputFile, error) {
	var files []*model.OutputFile
	for rows.Next() {
		f := &model.OutputFile{}
		if err := rows.Scan(
			&f.ID, &f.ExecutionID, &f.ObjectKey, &f.Name, &f.Bytes, &f.Checksum,
			&f.Downloaded, &f.Deleted, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan output file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate output files: %w", err)
	}
	return files, nil
}
