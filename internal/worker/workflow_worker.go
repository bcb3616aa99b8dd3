package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/shortfactory/api/internal/pipeline"
	"github.com/shortfactory/api/internal/service"
	"github.com/shortfactory/api/internal/websocket"
)

// WorkflowWorker executes pipeline runs dequeued from the workflow queue.
type WorkflowWorker struct {
	service      *service.WorkflowService
	hub          *websocket.Hub
	orchestrator *pipeline.Orchestrator
}

// NewWorkflowWorker creates a new workflow worker
func NewWorkflowWorker(svc *service.WorkflowService, hub *websocket.Hub, orch *pipeline.Orchestrator) *WorkflowWorker {
	return &WorkflowWorker{
		service:      svc,
		hub:          hub,
		orchestrator: orch,
	}
}

// ProcessTask handles one pipeline run task.
func (w *WorkflowWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	runID := payload.RunID
	log.Printf("Starting pipeline run: %s", runID)

	if err := w.service.MarkRunning(ctx, runID); err != nil {
		log.Printf("Failed to mark run %s running: %v", runID, err)
	}

	result, err := w.orchestrator.Run(ctx, w.hub.Emitter(runID))
	if err != nil {
		log.Printf("Pipeline run %s failed (%s): %v", runID, pipeline.KindOf(err), err)
		if ferr := w.service.FailRun(ctx, runID, err.Error()); ferr != nil {
			log.Printf("Failed to mark run %s failed: %v", runID, ferr)
		}
		return err
	}

	if err := w.service.CompleteRun(ctx, runID, result); err != nil {
		log.Printf("Failed to mark run %s complete: %v", runID, err)
		return err
	}

	log.Printf("Pipeline run %s completed", runID)
	return nil
}
