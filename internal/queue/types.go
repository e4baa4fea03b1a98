package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Job is a queued compilation request plus its lifecycle bookkeeping.
// Payload holds the original JSON request body; result columns stay empty
// until a worker completes the job.
type Job struct {
	ID               string
	Payload          json.RawMessage
	Status           Status
	SubmittedBy      string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Passes           int
	BibliographyRuns int
	Log              string
	Artifact         []byte
	ArtifactDigest   *string
	LastError        *string
}

type EnqueueRequest struct {
	Payload     json.RawMessage
	SubmittedBy string
}

// Result records what a worker produced for a finished job.
type Result struct {
	Status           Status
	Passes           int
	BibliographyRuns int
	Log              string
	Artifact         []byte
	ArtifactDigest   string
	LastError        *string
}
