package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shortfactory/api/internal/model"
)

// Orchestrator runs the fixed seven-stage production pipeline for exactly one
// work item per invocation. Stages execute strictly in order; each remote
// call and the poll delay are suspension points. Any stage failure halts the
// run with a single terminal error event. Nothing is rolled back: a row
// already marked done stays done even if the later download or upload fails.
type Orchestrator struct {
	rows       RowStore
	scenes     SceneGenerator
	renderer   RenderService
	downloader Downloader
	publisher  Publisher

	triggerStatus string
	pollInterval  time.Duration
}

// Options tune a single orchestrator instance.
type Options struct {
	// TriggerStatus selects work items; rows whose status column equals this
	// value are eligible. Defaults to "production".
	TriggerStatus string
	// PollInterval is the delay between render status polls. Defaults to 15s.
	PollInterval time.Duration
}

func New(rows RowStore, scenes SceneGenerator, renderer RenderService, downloader Downloader, publisher Publisher, opts Options) *Orchestrator {
	if opts.TriggerStatus == "" {
		opts.TriggerStatus = "production"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	return &Orchestrator{
		rows:          rows,
		scenes:        scenes,
		renderer:      renderer,
		downloader:    downloader,
		publisher:     publisher,
		triggerStatus: opts.TriggerStatus,
		pollInterval:  opts.PollInterval,
	}
}

// Run executes the pipeline, pushing events to em as they are produced. The
// emitter is closed exactly once, right after the terminal done or error
// event. The returned error carries the failing stage's kind.
func (o *Orchestrator) Run(ctx context.Context, em Emitter) (*model.RunResult, error) {
	defer em.Close()

	em.Emit(model.Event{Step: model.StepStart, Message: "Pipeline started"})

	// 1) Next production row. No announce event here: a run that finds no
	// eligible row reports nothing but the terminal error.
	item, err := o.rows.NextByStatus(ctx, o.triggerStatus)
	if err != nil {
		return nil, o.fail(em, KindNotFound, err)
	}
	em.Emit(model.Event{
		Step:    model.StepSheet,
		Message: fmt.Sprintf("Row loaded, id=%s", item.ID),
		ItemID:  item.ID,
	})

	// 2) Scene generation
	em.Emit(model.Event{Step: model.StepOpenAI, Message: "Generating scenes..."})
	scenes, err := o.scenes.GenerateScenes(ctx, item.Field("topic"), item.Field("desc"))
	if err != nil {
		return nil, o.fail(em, KindGeneration, err)
	}
	em.Emit(model.Event{
		Step:       model.StepOpenAI,
		Message:    fmt.Sprintf("Scenes generated (%d)", len(scenes)),
		SceneCount: len(scenes),
	})

	// 3) Render job submission
	em.Emit(model.Event{Step: model.StepJSON2Video, Message: "Submitting render job..."})
	project, err := o.renderer.Submit(ctx, item, scenes)
	if err != nil {
		return nil, o.fail(em, KindSubmission, err)
	}
	em.Emit(model.Event{
		Step:    model.StepJSON2Video,
		Message: fmt.Sprintf("Job submitted, project=%s", project),
		Project: project,
	})

	// 4) Poll until the render reaches a terminal status. The job is never
	// resubmitted; the project id is the only handle used from here on.
	em.Emit(model.Event{Step: model.StepRender, Message: "Rendering in progress (polling)..."})
	movieURL, err := o.poll(ctx, project)
	if err != nil {
		return nil, o.fail(em, KindPoll, err)
	}
	em.Emit(model.Event{
		Step:     model.StepRender,
		Message:  "Render complete, URL received.",
		MovieURL: movieURL,
	})

	// 5) Persist success before risking the slower download/upload path.
	em.Emit(model.Event{Step: model.StepSheetUpdate, Message: "Updating sheet (done)..."})
	err = o.rows.UpdateByID(ctx, item.ID, map[string]string{
		"status":           "done",
		"errorLog":         "",
		"publishingStatus": "ongoing",
		"finalUrl":         movieURL,
	})
	if err != nil {
		return nil, o.fail(em, KindPersist, err)
	}

	// 6) Download rendered media
	em.Emit(model.Event{Step: model.StepDownload, Message: "Downloading video..."})
	videoPath, err := o.downloader.Fetch(ctx, movieURL)
	if err != nil {
		return nil, o.fail(em, KindDownload, err)
	}
	em.Emit(model.Event{Step: model.StepDownload, Message: "Video downloaded."})

	// 7) Publish
	em.Emit(model.Event{Step: model.StepYouTube, Message: "Starting YouTube upload..."})
	videoID, err := o.publisher.Upload(ctx, videoPath, UploadMetadata{
		Title:       item.Field("youtubeTitle"),
		Description: item.Field("youtubeDesc"),
		Tags:        item.Field("youtubeTags"),
		Privacy:     item.Field("youtubeStatus"),
	})
	if err != nil {
		return nil, o.fail(em, KindUpload, err)
	}
	link := ""
	if videoID != "" {
		link = "https://www.youtube.com/watch?v=" + videoID
	}
	em.Emit(model.Event{
		Step:           model.StepYouTube,
		Message:        "YouTube upload complete.",
		YouTubeVideoID: videoID,
		YouTubeLink:    link,
	})

	// Best-effort temp file cleanup; failure here is not a pipeline failure.
	if err := os.Remove(videoPath); err != nil {
		log.Printf("Failed to remove temp video %s: %v", videoPath, err)
	}

	result := &model.RunResult{
		MovieURL:       movieURL,
		YouTubeVideoID: videoID,
		YouTubeLink:    link,
	}
	em.Emit(model.Event{
		Step:           model.StepDone,
		Message:        "All done.",
		MovieURL:       movieURL,
		YouTubeVideoID: videoID,
		YouTubeLink:    link,
	})
	return result, nil
}

// poll queries the render status on a fixed interval until the job reaches a
// terminal status. A done status requires a non-empty result URL. A
// transport failure aborts the run immediately; only non-terminal statuses
// keep the loop going.
func (o *Orchestrator) poll(ctx context.Context, project string) (string, error) {
	for {
		st, err := o.renderer.Status(ctx, project)
		if err != nil {
			return "", err
		}

		switch st.Status {
		case model.RenderDone:
			if st.URL == "" {
				return "", errors.New("render finished without a result URL")
			}
			return st.URL, nil
		case model.RenderError:
			if st.Message != "" {
				return "", errors.New(st.Message)
			}
			return "", errors.New("render service reported an error")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
}

// fail converts a stage failure into the single terminal error event and
// returns the kinded error for the caller to persist.
func (o *Orchestrator) fail(em Emitter, kind Kind, err error) error {
	serr := WrapKind(kind, err)
	em.Emit(model.Event{Step: model.StepError, Message: serr.Error()})
	return serr
}
