package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxLogBytes = 1 * 1024 * 1024

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}
	if req.SubmittedBy == "" {
		return "", fmt.Errorf("submitted_by is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := q.db.ExecContext(ctx, `
INSERT INTO compile_jobs(id, payload, status, submitted_by, created_at)
VALUES(?, ?, ?, ?, ?);
`, id, string(req.Payload), StatusQueued, req.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// RecordSync stores a finished synchronous compilation under the run's ID so
// it can be inspected through GetJob like any queued job. The row is inserted
// already terminal; workers never see it.
func (q *Queue) RecordSync(ctx context.Context, id string, payload []byte, startedAt time.Time, res Result) error {
	if id == "" {
		return fmt.Errorf("id is empty")
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if res.Status != StatusSucceeded && res.Status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", res.Status)
	}

	logText := res.Log
	if len(logText) > maxLogBytes {
		logText = logText[:maxLogBytes]
	}
	var digest any
	if res.ArtifactDigest != "" {
		digest = res.ArtifactDigest
	}

	startedS := startedAt.UTC().Format(time.RFC3339Nano)
	completedS := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx, `
INSERT INTO compile_jobs(id, payload, status, submitted_by, created_at, started_at, completed_at,
                         passes, bib_runs, log, artifact, artifact_digest, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, string(payload), res.Status, "sync", startedS, startedS, completedS,
		res.Passes, res.BibliographyRuns, logText, res.Artifact, digest, res.LastError)
	if err != nil {
		return fmt.Errorf("record sync job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest queued job and marks it running. Returns (nil, nil)
// if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	nowS := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM compile_jobs
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE compile_jobs
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, payload, status, submitted_by, created_at, started_at;
`, StatusQueued, StatusRunning, nowS)

	var (
		j          Job
		payload    string
		statusS    string
		createdAtS string
		startedAtS sql.NullString
	)
	err := row.Scan(&j.ID, &payload, &statusS, &j.SubmittedBy, &createdAtS, &startedAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	j.Payload = []byte(payload)
	j.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	return &j, nil
}

// Complete marks a job terminal and stores its result.
func (q *Queue) Complete(ctx context.Context, jobID string, res Result) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if res.Status != StatusSucceeded && res.Status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", res.Status)
	}

	logText := res.Log
	if len(logText) > maxLogBytes {
		logText = logText[:maxLogBytes]
	}

	var digest any
	if res.ArtifactDigest != "" {
		digest = res.ArtifactDigest
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)
	out, err := q.db.ExecContext(ctx, `
UPDATE compile_jobs
SET status = ?, completed_at = ?, passes = ?, bib_runs = ?, log = ?, artifact = ?, artifact_digest = ?, last_error = ?
WHERE id = ?;
`, res.Status, completedAt, res.Passes, res.BibliographyRuns, logText, res.Artifact, digest, res.LastError, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob loads a job by ID, including stored results for finished jobs.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
SELECT id, payload, status, submitted_by, created_at, started_at, completed_at,
       passes, bib_runs, log, artifact, artifact_digest, last_error
FROM compile_jobs
WHERE id = ?;
`, jobID)

	var (
		j            Job
		payload      string
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		logS         sql.NullString
		digestS      sql.NullString
		lastErrorS   sql.NullString
	)
	err := row.Scan(
		&j.ID, &payload, &statusS, &j.SubmittedBy, &createdAtS, &startedAtS, &completedAtS,
		&j.Passes, &j.BibliographyRuns, &logS, &j.Artifact, &digestS, &lastErrorS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	j.Payload = []byte(payload)
	j.Status = Status(statusS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if logS.Valid {
		j.Log = logS.String
	}
	if digestS.Valid {
		j.ArtifactDigest = &digestS.String
	}
	if lastErrorS.Valid {
		j.LastError = &lastErrorS.String
	}
	return &j, nil
}

// Depth reports how many jobs are waiting to be claimed.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM compile_jobs WHERE status = ?;`, StatusQueued).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
