package model

import (
	"encoding/json"
	"time"
)

// Step names used on the event stream. StepStart and StepError are not part
// of the ordered node vocabulary; everything else is.
const (
	StepStart       = "start"
	StepSheet       = "sheet"
	StepOpenAI      = "openai"
	StepJSON2Video  = "json2video"
	StepRender      = "render"
	StepSheetUpdate = "sheetUpdate"
	StepDownload    = "download"
	StepYouTube     = "youtube"
	StepDone        = "done"
	StepError       = "error"
)

// StepOrder is the fixed node vocabulary in pipeline order. The dashboard
// graph and the progress percentage are both derived from positions in this
// slice.
var StepOrder = []string{
	StepSheet,
	StepOpenAI,
	StepJSON2Video,
	StepRender,
	StepSheetUpdate,
	StepDownload,
	StepYouTube,
	StepDone,
}

// StepIndex returns the position of a step in StepOrder, or -1 when the step
// is not part of the ordered vocabulary (start, error, unknown).
func StepIndex(step string) int {
	for i, s := range StepOrder {
		if s == step {
			return i
		}
	}
	return -1
}

// Event is one unit of progress pushed over a run's event stream. Step and
// Message are always set; the remaining fields are step-specific.
type Event struct {
	Step           string `json:"step"`
	Message        string `json:"message"`
	ItemID         string `json:"id,omitempty"`
	SceneCount     int    `json:"sceneCount,omitempty"`
	Project        string `json:"project,omitempty"`
	MovieURL       string `json:"movieUrl,omitempty"`
	YouTubeVideoID string `json:"youtubeVideoId,omitempty"`
	YouTubeLink    string `json:"youtubeLink,omitempty"`
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Step == StepDone || e.Step == StepError
}

// WorkItem is one spreadsheet row selected for production. Fields holds the
// row's cells keyed by header name; ID mirrors Fields["id"].
type WorkItem struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Field returns the named cell, or "" when the column is absent.
func (w *WorkItem) Field(name string) string {
	if w.Fields == nil {
		return ""
	}
	return w.Fields[name]
}

// Scene is one narration+image unit of the generated script. Order within a
// script is the rendering order.
type Scene struct {
	VoiceOverText string `json:"voiceOverText"`
	ImagePrompt   string `json:"imagePrompt"`
}

// Render job status values reported by the video service.
const (
	RenderPending = "pending"
	RenderRunning = "running"
	RenderDone    = "done"
	RenderError   = "error"
)

// RenderStatus is one poll result for a submitted render job.
type RenderStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// NodeStatus is the client-derived per-step state. It is computed from the
// event log and never transmitted over the wire.
type NodeStatus string

const (
	NodeIdle   NodeStatus = "idle"
	NodeQueued NodeStatus = "queued"
	NodeActive NodeStatus = "active"
	NodeDone   NodeStatus = "done"
	NodeError  NodeStatus = "error"
)

// RunState is the lifecycle state of a pipeline run record.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// Run is the persisted record of one pipeline invocation.
type Run struct {
	ID          string          `json:"id"`
	State       RunState        `json:"state"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// RunResult is the payload stored on a succeeded run.
type RunResult struct {
	MovieURL       string `json:"movieUrl"`
	YouTubeVideoID string `json:"youtubeVideoId,omitempty"`
	YouTubeLink    string `json:"youtubeLink,omitempty"`
}
