package pipeline

import (
	"context"

	"github.com/shortfactory/api/internal/model"
)

// RowStore is the spreadsheet collaborator. NextByStatus returns the first
// data row whose status column equals status; UpdateByID rewrites only the
// given fields of the row whose id column equals id.
type RowStore interface {
	NextByStatus(ctx context.Context, status string) (*model.WorkItem, error)
	UpdateByID(ctx context.Context, id string, fields map[string]string) error
}

// SceneGenerator produces the ordered scene list for a topic.
type SceneGenerator interface {
	GenerateScenes(ctx context.Context, topic, description string) ([]model.Scene, error)
}

// RenderService is the asynchronous video-rendering collaborator. Submit
// returns the opaque project id used for all subsequent Status calls.
type RenderService interface {
	Submit(ctx context.Context, item *model.WorkItem, scenes []model.Scene) (string, error)
	Status(ctx context.Context, project string) (*model.RenderStatus, error)
}

// Downloader streams a remote URL to local ephemeral storage and returns the
// local path. The caller owns the file.
type Downloader interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// UploadMetadata carries the publishing fields drawn from the work item.
type UploadMetadata struct {
	Title       string
	Description string
	Tags        string // comma-separated
	Privacy     string
}

// Publisher uploads a local file to the hosting platform and returns the
// published video id.
type Publisher interface {
	Upload(ctx context.Context, path string, meta UploadMetadata) (string, error)
}

// Emitter receives pipeline events in emission order. Close is called by the
// orchestrator exactly once, immediately after the terminal event.
type Emitter interface {
	Emit(event model.Event)
	Close()
}
