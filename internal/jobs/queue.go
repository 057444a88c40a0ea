// Package jobs runs uploaded transcripts through the analyzer one at a time.
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/mentor/internal/pipeline"
	"github.com/MikeSquared-Agency/mentor/internal/transcript"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Analyzer analyzes one transcript.
type Analyzer interface {
	Analyze(ctx context.Context, sourceFile, text string, progress pipeline.ProgressFunc) (*pipeline.Report, error)
}

// Job is a snapshot of one queued transcript.
type Job struct {
	ID          string           `json:"job_id"`
	Filename    string           `json:"filename"`
	Path        string           `json:"-"`
	Status      Status           `json:"status"`
	Progress    []string         `json:"progress"`
	Warnings    []string         `json:"warnings,omitempty"`
	Error       string           `json:"error,omitempty"`
	Report      *pipeline.Report `json:"result,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Queue processes jobs in submission order on a single worker so that only
// one analysis writes to the ledger at a time.
type Queue struct {
	analyzer Analyzer
	extract  func(path string) (string, error)
	logger   *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string
	wake    chan struct{}
	done    chan struct{}
}

func NewQueue(analyzer Analyzer, logger *slog.Logger) *Queue {
	return &Queue{
		analyzer: analyzer,
		extract:  transcript.ExtractText,
		logger:   logger,
		jobs:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// NewID returns a fresh job id. Callers that need the id before the job is
// submitted (to name the upload) reserve one here.
func NewID() string { return uuid.NewString() }

// Submit queues the transcript at path under the given id.
func (q *Queue) Submit(id, filename, path string) Job {
	q.mu.Lock()
	job := &Job{
		ID:        id,
		Filename:  filename,
		Path:      path,
		Status:    StatusQueued,
		Progress:  []string{"Queued for analysis"},
		CreatedAt: time.Now().UTC(),
	}
	q.jobs[id] = job
	q.pending = append(q.pending, id)
	snapshot := job.clone()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.logger.Info("job queued", "job_id", id, "filename", filename)
	return snapshot
}

// Get returns a snapshot of the job with the given id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// List returns snapshots of every job, oldest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// Start launches the worker. It stops when ctx is cancelled; jobs still
// queued at that point are marked failed.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for {
			if id, ok := q.next(); ok {
				q.process(ctx, id)
				continue
			}
			select {
			case <-q.wake:
			case <-ctx.Done():
				q.failPending("shutting down before analysis started")
				return
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (q *Queue) Wait() {
	<-q.done
}

func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return id, true
}

func (q *Queue) process(ctx context.Context, id string) {
	var path, filename string
	q.update(id, func(j *Job) {
		now := time.Now().UTC()
		j.Status = StatusProcessing
		j.StartedAt = &now
		path, filename = j.Path, j.Filename
	})
	q.logger.Info("job started", "job_id", id, "filename", filename)

	progress := func(msg string) {
		q.update(id, func(j *Job) { j.Progress = append(j.Progress, msg) })
	}

	progress("Extracting transcript text")
	text, err := q.extract(path)
	if err != nil {
		q.fail(id, err)
		return
	}

	report, err := q.analyzer.Analyze(ctx, path, text, progress)
	if err != nil {
		q.fail(id, err)
		return
	}

	q.update(id, func(j *Job) {
		now := time.Now().UTC()
		j.Status = StatusCompleted
		j.CompletedAt = &now
		j.Report = report
		j.Warnings = append(j.Warnings, report.Warnings...)
		j.Progress = append(j.Progress, "Analysis complete")
	})
	q.logger.Info("job completed", "job_id", id, "warnings", len(report.Warnings))
}

func (q *Queue) fail(id string, err error) {
	q.update(id, func(j *Job) {
		now := time.Now().UTC()
		j.Status = StatusFailed
		j.CompletedAt = &now
		j.Error = err.Error()
	})
	q.logger.Error("job failed", "job_id", id, "error", err)
}

func (q *Queue) failPending(reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.pending {
		j := q.jobs[id]
		j.Status = StatusFailed
		j.Error = reason
	}
	q.pending = nil
}

func (q *Queue) update(id string, fn func(*Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j, ok := q.jobs[id]; ok {
		fn(j)
	}
}

func (j *Job) clone() Job {
	c := *j
	c.Progress = append([]string(nil), j.Progress...)
	c.Warnings = append([]string(nil), j.Warnings...)
	return c
}
