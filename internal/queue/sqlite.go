package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/palguna26/Quantum-Review/internal/domain"
)

var ErrEmpty = errors.New("no jobs ready")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 5,
  state TEXT NOT NULL CHECK(state IN ('queued','running','succeeded','failed','canceled')) DEFAULT 'queued',
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  next_run_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  visibility_timeout INTEGER NOT NULL DEFAULT 60,
  idempotency_key TEXT,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_next_run ON jobs(state, next_run_at, priority DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idem ON jobs(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE TABLE IF NOT EXISTS job_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id TEXT NOT NULL,
  started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  finished_at DATETIME,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  FOREIGN KEY(job_id) REFERENCES jobs(id)
);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  job_kind TEXT NOT NULL,
  payload BLOB NOT NULL,
  priority INTEGER NOT NULL DEFAULT 5,
  max_attempts INTEGER NOT NULL DEFAULT 5,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run DATETIME,
  next_run DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	Enqueue(ctx context.Context, j domain.Job) (string, error)
	LeaseNext(ctx context.Context, now time.Time) (domain.Job, Lease, error)
	Retry(ctx context.Context, id, err string, delay time.Duration) error
	Succeed(ctx context.Context, id string) error
	Fail(ctx context.Context, id, err string, delay time.Duration) error
	RecoverStale(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, id string) (domain.Job, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Job, error)

	// Schedule operations
	CreateSchedule(ctx context.Context, s domain.Schedule) (string, error)
	ListSchedules(ctx context.Context) ([]domain.Schedule, error)
	GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	UpdateScheduleLastRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

type Lease struct{ Until time.Time }

// Enqueue inserts a job, or returns the already-enqueued job's id when the
// idempotency key has been seen before. The webhook handler treats this as
// fire-and-forget: a successful insert is all it waits for.
func (r *sqliteRepo) Enqueue(ctx context.Context, j domain.Job) (string, error) {
	if !j.Kind.Valid() {
		return "", fmt.Errorf("unknown job kind %q", j.Kind)
	}
	id := j.ID
	if id == "" {
		id = "job_" + uuid.NewString()
	}
	if j.Priority == 0 {
		j.Priority = 5
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 5
	}
	if j.VisibilityTimeout == 0 {
		j.VisibilityTimeout = 60
	}

	if j.IdempotencyKey != nil {
		row := r.db.QueryRowContext(ctx, "SELECT id FROM jobs WHERE idempotency_key = ?", *j.IdempotencyKey)
		var existingID string
		if err := row.Scan(&existingID); err == nil {
			return existingID, nil
		}
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (id,kind,payload,priority,state,attempts,max_attempts,next_run_at,visibility_timeout,idempotency_key,created_at,updated_at)
VALUES (?,?,?,?, 'queued',0,?, CURRENT_TIMESTAMP, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
`, id, string(j.Kind), []byte(j.Payload), j.Priority, j.MaxAttempts, j.VisibilityTimeout, j.IdempotencyKey)
	return id, err
}

func (r *sqliteRepo) LeaseNext(ctx context.Context, now time.Time) (domain.Job, Lease, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Job{}, Lease{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT id,kind,payload,priority,attempts,max_attempts,state,next_run_at,visibility_timeout,idempotency_key,created_at,updated_at
FROM jobs
WHERE state='queued' AND next_run_at <= ?
ORDER BY priority DESC, created_at ASC
LIMIT 1
`, now)
	var j domain.Job
	j, err = scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		rbErr := tx.Rollback()
		err = nil
		if rbErr != nil {
			return domain.Job{}, Lease{}, rbErr
		}
		return domain.Job{}, Lease{}, ErrEmpty
	}
	if err != nil {
		return domain.Job{}, Lease{}, err
	}

	leaseUntil := now.Add(time.Duration(j.VisibilityTimeout) * time.Second)
	_, err = tx.ExecContext(ctx, `UPDATE jobs SET state='running', updated_at=CURRENT_TIMESTAMP WHERE id=?`, j.ID)
	if err != nil {
		return domain.Job{}, Lease{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Job{}, Lease{}, err
	}
	return j, Lease{Until: leaseUntil}, nil
}

// Retry records the failed attempt and requeues the job with backoff, or
// moves it to failed once attempts are exhausted. Attempt row and state
// transition commit together: the driver binds placeholders per statement,
// so the two writes must be separate statements inside one transaction.
func (r *sqliteRepo) Retry(ctx context.Context, id, errStr string, delay time.Duration) error {
	return r.finishAttempt(ctx, id, errStr, false, `
UPDATE jobs
SET attempts = attempts + 1,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
    next_run_at = datetime(CURRENT_TIMESTAMP, ?),
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, fmt.Sprintf("+%d seconds", int(delay.Seconds())), id)
}

func (r *sqliteRepo) Succeed(ctx context.Context, id string) error {
	return r.finishAttempt(ctx, id, "", true, `
UPDATE jobs SET state='succeeded', updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
}

func (r *sqliteRepo) Fail(ctx context.Context, id, errStr string, delay time.Duration) error {
	// Hard fail: move to failed and stop
	return r.finishAttempt(ctx, id, errStr, false, `
UPDATE jobs SET state='failed', updated_at=CURRENT_TIMESTAMP WHERE id=?`, id)
}

func (r *sqliteRepo) finishAttempt(ctx context.Context, id, errStr string, success bool, updateQuery string, updateArgs ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO job_attempts(job_id, success, error, finished_at) VALUES (?,?,?,CURRENT_TIMESTAMP)`, id, success, errStr); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteRepo) RecoverStale(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET state='queued', next_run_at=CURRENT_TIMESTAMP, updated_at=CURRENT_TIMESTAMP
WHERE state='running' AND strftime('%s','now') - strftime('%s',updated_at) > visibility_timeout;`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *sqliteRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,kind,payload,priority,attempts,max_attempts,state,next_run_at,visibility_timeout,idempotency_key,created_at,updated_at
FROM jobs WHERE id=?`, id)
	return scanJob(row)
}

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,kind,payload,priority,attempts,max_attempts,state,next_run_at,visibility_timeout,idempotency_key,created_at,updated_at
FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var kind string
	var payload []byte
	var idem sql.NullString
	if err := row.Scan(&j.ID, &kind, &payload, &j.Priority, &j.Attempts, &j.MaxAttempts, &j.State, &j.NextRunAt, &j.VisibilityTimeout, &idem, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	j.Kind = domain.JobKind(kind)
	j.Payload = payload
	if idem.Valid {
		s := idem.String
		j.IdempotencyKey = &s
	}
	return j, nil
}

func (r *sqliteRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (string, error) {
	id := s.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	if s.Priority == 0 {
		s.Priority = 5
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = 5
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO schedules (id,name,cron_expr,job_kind,payload,priority,max_attempts,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, s.Name, s.CronExpr, string(s.JobKind), []byte(s.Payload), s.Priority, s.MaxAttempts, s.Enabled, s.LastRun, s.NextRun)
	return id, err
}

func (r *sqliteRepo) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return r.querySchedules(ctx, `
SELECT id,name,cron_expr,job_kind,payload,priority,max_attempts,enabled,last_run,next_run,created_at,updated_at
FROM schedules ORDER BY name`)
}

func (r *sqliteRepo) GetDueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return r.querySchedules(ctx, `
SELECT id,name,cron_expr,job_kind,payload,priority,max_attempts,enabled,last_run,next_run,created_at,updated_at
FROM schedules WHERE enabled=1 AND next_run <= ? ORDER BY next_run`, now)
}

func (r *sqliteRepo) querySchedules(ctx context.Context, q string, args ...any) ([]domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		var kind string
		var payload []byte
		var lastRun sql.NullTime
		if err := rows.Scan(&s.ID, &s.Name, &s.CronExpr, &kind, &payload, &s.Priority, &s.MaxAttempts, &s.Enabled, &lastRun, &s.NextRun, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.JobKind = domain.JobKind(kind)
		s.Payload = payload
		if lastRun.Valid {
			t := lastRun.Time
			s.LastRun = &t
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *sqliteRepo) UpdateScheduleLastRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE schedules SET last_run=?,next_run=?,updated_at=CURRENT_TIMESTAMP WHERE id=?`, lastRun, nextRun, id)
	return err
}
