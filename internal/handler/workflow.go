package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/shortfactory/api/internal/service"
	ws "github.com/shortfactory/api/internal/websocket"
	"github.com/shortfactory/api/pkg/response"
)

type WorkflowHandler struct {
	service *service.WorkflowService
	hub     *ws.Hub
}

func NewWorkflowHandler(svc *service.WorkflowService, hub *ws.Hub) *WorkflowHandler {
	return &WorkflowHandler{
		service: svc,
		hub:     hub,
	}
}

// Run handles GET /api/workflow/run. It starts one pipeline run and streams
// its events back as server-sent events until the terminal event. There are
// no parameters: the work item is selected internally. A second run while
// one is active is rejected with 409.
func (h *WorkflowHandler) Run(c *fiber.Ctx) error {
	run, err := h.service.StartRun(c.Context())
	if err != nil {
		if errors.Is(err, service.ErrRunActive) {
			return response.Conflict(c, response.CodeRunActive, "A pipeline run is already active")
		}
		return response.ServiceError(c, err.Error())
	}

	// Subscribe before dispatching so the stream sees every event.
	sub := h.hub.Subscribe(run.ID)

	if err := h.service.Dispatch(c.Context(), run.ID); err != nil {
		sub.Close()
		h.service.AbortStart(c.Context(), run.ID, err.Error())
		return response.ServiceError(c, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-transform")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Run-Id", run.ID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		for event := range sub.Events() {
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("Failed to marshal event: %v", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			// A disconnected client only loses visibility; the run keeps
			// going on the worker.
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))

	return nil
}

// GetRun handles GET /api/workflow/runs/:runId
func (h *WorkflowHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("runId")
	if runID == "" {
		return response.ValidationError(c, "Run ID is required", nil)
	}

	run, err := h.service.GetRun(c.Context(), runID)
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			return response.NotFound(c, "Run not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, run)
}

// Active handles GET /api/workflow/active
func (h *WorkflowHandler) Active(c *fiber.Ctx) error {
	runID, err := h.service.ActiveRunID(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, fiber.Map{"runId": runID, "active": runID != ""})
}
