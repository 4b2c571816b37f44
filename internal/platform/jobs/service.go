package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"routepay/internal/platform/db"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// finishTimeout bounds the final status write, which must outlive a
// cancelled job context.
const finishTimeout = 5 * time.Second

var (
	ErrQueueFull = errors.New("job queue full")
	ErrNotFound  = errors.New("job run not found")
)

// RunFunc does the work of one job. Its result is stored as the run details.
type RunFunc func(ctx context.Context) (any, error)

type Run struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Details     json.RawMessage `json:"details"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Service runs background jobs one at a time and records each run in
// job_runs so callers can poll the outcome.
type Service struct {
	DB    db.DBTX
	log   *zap.Logger
	queue chan job
	newID func() string
}

type job struct {
	ID   string
	Type string
	Run  RunFunc
}

func New(conn db.DBTX, queueSize int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Service{
		DB:    conn,
		log:   logger.Named("jobs"),
		queue: make(chan job, queueSize),
		newID: uuid.NewString,
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Enqueue records a queued run and hands it to the worker. The run id is
// returned immediately.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload any, run RunFunc) (string, error) {
	id, err := s.insertRun(ctx, jobType, StatusQueued, payload)
	if err != nil {
		return "", err
	}
	select {
	case s.queue <- job{ID: id, Type: jobType, Run: run}:
		return id, nil
	default:
		s.log.Warn("job queue full", zap.String("jobType", jobType), zap.String("jobId", id))
		s.finishRun(ctx, id, StatusFailed, map[string]string{"error": ErrQueueFull.Error()})
		return "", ErrQueueFull
	}
}

// RunNow executes the job inline while still recording it.
func (s *Service) RunNow(ctx context.Context, jobType string, payload any, run RunFunc) (any, error) {
	id, err := s.insertRun(ctx, jobType, StatusRunning, payload)
	if err != nil {
		s.log.Warn("job run insert failed", zap.String("jobType", jobType), zap.Error(err))
		id = ""
	}
	return s.runJob(ctx, job{ID: id, Type: jobType, Run: run})
}

func (s *Service) Get(ctx context.Context, id string) (Run, error) {
	var r Run
	err := s.DB.QueryRow(ctx, `
		SELECT id, job_type, status, payload_json, details_json, started_at, completed_at
		FROM job_runs
		WHERE id = $1
	`, id).Scan(&r.ID, &r.Type, &r.Status, &r.Payload, &r.Details, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return r, nil
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.log.Warn("job run failed", zap.String("jobType", j.Type), zap.String("jobId", j.ID), zap.Error(err))
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	if j.ID != "" {
		if _, err := s.DB.Exec(ctx, `UPDATE job_runs SET status = $1 WHERE id = $2`, StatusRunning, j.ID); err != nil {
			s.log.Warn("job run update failed", zap.String("jobId", j.ID), zap.Error(err))
		}
	}

	details, err := j.Run(ctx)
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		if details == nil {
			details = map[string]string{"error": err.Error()}
		}
	}
	if j.ID != "" {
		s.finishRun(ctx, j.ID, status, details)
	}
	return details, err
}

func (s *Service) insertRun(ctx context.Context, jobType, status string, payload any) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	id := s.newID()
	if _, err := s.DB.Exec(ctx, `
		INSERT INTO job_runs (id, job_type, status, payload_json)
		VALUES ($1,$2,$3,$4)
	`, id, jobType, status, payloadJSON); err != nil {
		return "", fmt.Errorf("insert job run: %w", err)
	}
	return id, nil
}

func (s *Service) finishRun(ctx context.Context, id, status string, details any) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		s.log.Warn("job details marshal failed", zap.Error(err))
		detailsJSON = []byte("{}")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if _, err := s.DB.Exec(ctx, `
		UPDATE job_runs
		SET status = $1, details_json = $2, completed_at = now()
		WHERE id = $3
	`, status, detailsJSON, id); err != nil {
		s.log.Warn("job run update failed", zap.String("jobId", id), zap.Error(err))
	}
}
