package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/shortfactory/api/internal/model"
)

// TaskTypeWorkflowRun is the asynq task type for pipeline runs.
const TaskTypeWorkflowRun = "workflow:run"

// QueueWorkflow is the asynq queue pipeline runs execute on.
const QueueWorkflow = "workflow"

const activeRunKey = "workflow:active"

// ErrRunActive is returned when a run is requested while another is in
// flight. Runs are mutually exclusive.
var ErrRunActive = errors.New("a pipeline run is already active")

// ErrRunNotFound is returned for unknown or expired run ids.
var ErrRunNotFound = errors.New("run not found")

// WorkflowService owns run records and the single-active-run lock.
type WorkflowService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	lockTTL     time.Duration
}

func NewWorkflowService(redisClient *redis.Client, asynqClient *asynq.Client, lockTTL time.Duration) *WorkflowService {
	return &WorkflowService{
		redis:       redisClient,
		asynqClient: asynqClient,
		lockTTL:     lockTTL,
	}
}

// StartRun acquires the active-run lock and persists a queued run record.
// The task is not enqueued yet; callers subscribe to the run's stream first
// and then call Dispatch, so no event can be missed.
func (s *WorkflowService) StartRun(ctx context.Context) (*model.Run, error) {
	runID := uuid.New().String()

	// The TTL is a safety net against a crashed worker leaving the lock
	// behind; a healthy run releases it on completion.
	ok, err := s.redis.SetNX(ctx, activeRunKey, runID, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunActive
	}

	run := &model.Run{
		ID:        runID,
		State:     model.RunQueued,
		CreatedAt: time.Now(),
	}
	if err := s.saveRun(ctx, run); err != nil {
		s.releaseLock(ctx, runID)
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	return run, nil
}

// Dispatch enqueues the run task. A run is never retried by the queue; a
// failed run terminates and a fresh run re-selects the work item.
func (s *WorkflowService) Dispatch(ctx context.Context, runID string) error {
	payload, err := json.Marshal(map[string]string{"runId": runID})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeWorkflowRun, payload)
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue(QueueWorkflow),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// AbortStart rolls back StartRun when dispatch fails.
func (s *WorkflowService) AbortStart(ctx context.Context, runID, errMsg string) {
	if err := s.FailRun(ctx, runID, errMsg); err != nil {
		log.Printf("Failed to abort run %s: %v", runID, err)
	}
}

// MarkRunning transitions the run record to running.
func (s *WorkflowService) MarkRunning(ctx context.Context, runID string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	now := time.Now()
	run.State = model.RunRunning
	run.StartedAt = &now
	return s.saveRun(ctx, run)
}

// CompleteRun records a successful run and releases the active-run lock.
func (s *WorkflowService) CompleteRun(ctx context.Context, runID string, result *model.RunResult) error {
	defer s.releaseLock(ctx, runID)

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	now := time.Now()
	run.State = model.RunSucceeded
	run.Result = data
	run.CompletedAt = &now
	return s.saveRun(ctx, run)
}

// FailRun records a failed run and releases the active-run lock.
func (s *WorkflowService) FailRun(ctx context.Context, runID, errMsg string) error {
	defer s.releaseLock(ctx, runID)

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	now := time.Now()
	run.State = model.RunFailed
	run.Error = errMsg
	run.CompletedAt = &now
	return s.saveRun(ctx, run)
}

// GetRun returns the persisted run record.
func (s *WorkflowService) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	data, err := s.redis.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var run model.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ActiveRunID returns the id of the in-flight run, or "" when idle.
func (s *WorkflowService) ActiveRunID(ctx context.Context) (string, error) {
	id, err := s.redis.Get(ctx, activeRunKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// Helper methods

func (s *WorkflowService) saveRun(ctx context.Context, run *model.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, runKey(run.ID), data, 24*time.Hour).Err()
}

// releaseLock clears the active-run lock if this run still holds it.
func (s *WorkflowService) releaseLock(ctx context.Context, runID string) {
	holder, err := s.redis.Get(ctx, activeRunKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("Failed to read run lock: %v", err)
		}
		return
	}
	if holder != runID {
		return
	}
	if err := s.redis.Del(ctx, activeRunKey).Err(); err != nil {
		log.Printf("Failed to release run lock: %v", err)
	}
}

func runKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}
