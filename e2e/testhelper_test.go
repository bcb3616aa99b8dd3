package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/shortfactory/api/internal/client"
	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/handler"
	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/pipeline"
	"github.com/shortfactory/api/internal/service"
	ws "github.com/shortfactory/api/internal/websocket"
	"github.com/shortfactory/api/internal/worker"
)

const testRedisAddr = "localhost:6379"

// testRedisDB avoids colliding with a locally running server.
const testRedisDB = 15

// fakeWorld stands in for every external service the pipeline talks to:
// the sheet, the scene generator, the render API, the video CDN and the
// publisher. Tests script the render status replies and inspect the
// recorded sheet updates afterwards.
type fakeWorld struct {
	mu            sync.Mutex
	grid          [][]interface{}
	updates       [][][]interface{}
	renderReplies []map[string]interface{}
	scenes        []model.Scene
	videoBytes    []byte

	publishID  string
	publishErr error
	published  int
}

func defaultWorld() *fakeWorld {
	return &fakeWorld{
		grid: [][]interface{}{
			{"id", "status", "topic", "desc", "youtubeTitle", "youtubeStatus"},
			{"row-1", "production", "deep sea facts", "three odd creatures", "Deep Sea Facts", "private"},
		},
		scenes: []model.Scene{
			{VoiceOverText: "first line", ImagePrompt: "an anglerfish"},
			{VoiceOverText: "second line", ImagePrompt: "a giant squid"},
		},
		videoBytes: []byte("rendered video bytes"),
		publishID:  "vid-123",
	}
}

func (w *fakeWorld) popRenderReply() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.renderReplies) == 0 {
		return map[string]interface{}{"status": "running"}
	}
	reply := w.renderReplies[0]
	if len(w.renderReplies) > 1 {
		w.renderReplies = w.renderReplies[1:]
	}
	return reply
}

func (w *fakeWorld) recordUpdate(values [][]interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, values)
}

func (w *fakeWorld) updateCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.updates)
}

func (w *fakeWorld) Upload(ctx context.Context, videoPath string, meta pipeline.UploadMetadata) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.published++
	return w.publishID, w.publishErr
}

type testApp struct {
	app   *fiber.App
	svc   *service.WorkflowService
	world *fakeWorld
}

// setupApp builds the full server the way main.go does, with every external
// dependency pointed at the fake world. Requires a local redis; tests are
// skipped without one.
func setupApp(t *testing.T, world *fakeWorld) *testApp {
	t.Helper()
	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: testRedisDB})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test db: %v", err)
	}
	t.Cleanup(func() {
		redisClient.FlushDB(context.Background())
		redisClient.Close()
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: testRedisAddr, DB: testRedisDB})
	t.Cleanup(func() { asynqClient.Close() })

	// Fake external services
	sheetSrv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			world.mu.Lock()
			grid := world.grid
			world.mu.Unlock()
			json.NewEncoder(rw).Encode(map[string]interface{}{"values": grid})
		case http.MethodPut:
			var body struct {
				Values [][]interface{} `json:"values"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			world.recordUpdate(body.Values)
			rw.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(sheetSrv.Close)

	openaiSrv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		world.mu.Lock()
		content, _ := json.Marshal(map[string]interface{}{"scenes": world.scenes})
		world.mu.Unlock()
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": string(content)}},
			},
		})
	}))
	t.Cleanup(openaiSrv.Close)

	videoSrv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		world.mu.Lock()
		rw.Write(world.videoBytes)
		world.mu.Unlock()
	}))
	t.Cleanup(videoSrv.Close)

	renderSrv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(rw).Encode(map[string]string{"project": "proj-1"})
		case http.MethodGet:
			reply := world.popRenderReply()
			if reply["status"] == "done" && reply["url"] == nil {
				reply["url"] = videoSrv.URL + "/video.mp4"
			}
			json.NewEncoder(rw).Encode(map[string]interface{}{"movie": reply})
		}
	}))
	t.Cleanup(renderSrv.Close)

	// Clients against the fakes
	sheetsClient, err := client.NewSheetsClient(ctx,
		&config.SheetsConfig{SpreadsheetID: "sheet-1", SheetName: "Sheet1"},
		option.WithEndpoint(sheetSrv.URL),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create sheets client: %v", err)
	}
	openaiClient := client.NewOpenAIClient(&config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: openaiSrv.URL,
		Model:   "gpt-4.1-mini",
	})
	renderClient := client.NewJSON2VideoClient(&config.JSON2VideoConfig{
		APIKey:     "test-key",
		TemplateID: "tpl-1",
		BaseURL:    renderSrv.URL,
	})

	orch := pipeline.New(sheetsClient, openaiClient, renderClient,
		client.NewHTTPDownloader(), world, pipeline.Options{
			TriggerStatus: "production",
			PollInterval:  20 * time.Millisecond,
		})

	hub := ws.NewHub()
	svc := service.NewWorkflowService(redisClient, asynqClient, time.Minute)
	workflowHandler := handler.NewWorkflowHandler(svc, hub)

	// Worker server so dispatched runs actually execute
	asynqSrv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: testRedisAddr, DB: testRedisDB},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{service.QueueWorkflow: 1},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeWorkflowRun, worker.NewWorkflowWorker(svc, hub, orch).ProcessTask)
	if err := asynqSrv.Start(mux); err != nil {
		t.Fatalf("failed to start worker server: %v", err)
	}
	t.Cleanup(asynqSrv.Shutdown)

	app := fiber.New()
	api := app.Group("/api")
	wf := api.Group("/workflow")
	wf.Get("/run", workflowHandler.Run)
	wf.Get("/runs/:runId", workflowHandler.GetRun)
	wf.Get("/active", workflowHandler.Active)

	return &testApp{app: app, svc: svc, world: world}
}

// streamEvents performs GET /api/workflow/run and decodes the full SSE
// stream. The call blocks until the run's terminal event closes the stream.
func streamEvents(t *testing.T, app *fiber.App) (*http.Response, []model.Event) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, "/api/workflow/run", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var events []model.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("malformed event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	resp.Body.Close()
	return resp, events
}

func steps(events []model.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Step
	}
	return out
}

// waitForRunState polls the run record until it reaches state or times out.
func waitForRunState(t *testing.T, svc *service.WorkflowService, runID string, state model.RunState) *model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := svc.GetRun(context.Background(), runID)
		if err == nil && run.State == state {
			return run
		}
		if time.Now().After(deadline) {
			if err != nil {
				t.Fatalf("run %s never reached %s: %v", runID, state, err)
			}
			t.Fatalf("run %s state = %s, want %s", runID, run.State, state)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func stepsEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func stepsString(s []string) string {
	return fmt.Sprintf("[%s]", strings.Join(s, " "))
}
