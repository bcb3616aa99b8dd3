package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/pipeline"
)

func newTestJSON2VideoClient(url string) *JSON2VideoClient {
	return NewJSON2VideoClient(&config.JSON2VideoConfig{
		APIKey:     "test-key",
		TemplateID: "tpl-1",
		BaseURL:    url,
	})
}

func testItem() *model.WorkItem {
	return &model.WorkItem{
		ID: "42",
		Fields: map[string]string{
			"id":           "42",
			"voiceID":      "anna",
			"voiceModel":   "azure",
			"imageModel":   "flux-pro",
			"subtitleFont": "Oswald Bold",
			"musicUrl":     "http://cdn/music.mp3",
		},
	}
}

func TestSubmit(t *testing.T) {
	var gotReq SubmitMovieRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/movies" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad body: %v", err)
		}
		json.NewEncoder(w).Encode(SubmitMovieResponse{Project: "job-1"})
	}))
	defer srv.Close()

	scenes := []model.Scene{{VoiceOverText: "first", ImagePrompt: "a cat"}}
	project, err := newTestJSON2VideoClient(srv.URL).Submit(context.Background(), testItem(), scenes)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if project != "job-1" {
		t.Errorf("project = %q", project)
	}
	if gotReq.Template != "tpl-1" {
		t.Errorf("template = %q", gotReq.Template)
	}
	if gotReq.Variables.Voice != "anna" || gotReq.Variables.FontFamily != "Oswald Bold" {
		t.Errorf("variables not mapped from row: %+v", gotReq.Variables)
	}
	if len(gotReq.Variables.Scenes) != 1 || gotReq.Variables.Scenes[0].ImagePrompt != "a cat" {
		t.Errorf("scenes not forwarded: %+v", gotReq.Variables.Scenes)
	}
}

func TestSubmitMissingProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}))
	defer srv.Close()

	_, err := newTestJSON2VideoClient(srv.URL).Submit(context.Background(), testItem(), nil)
	if err == nil {
		t.Fatal("expected error for missing project id")
	}
}

func TestSubmitUnconfigured(t *testing.T) {
	c := NewJSON2VideoClient(&config.JSON2VideoConfig{BaseURL: "http://localhost"})

	_, err := c.Submit(context.Background(), testItem(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if pipeline.KindOf(err) != pipeline.KindConfiguration {
		t.Errorf("kind = %q, want %q", pipeline.KindOf(err), pipeline.KindConfiguration)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/movies" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("project"); got != "job-1" {
			t.Errorf("project param = %q", got)
		}
		json.NewEncoder(w).Encode(StatusResponse{
			Movie: &MovieStatus{Status: "done", URL: "http://x/video.mp4"},
		})
	}))
	defer srv.Close()

	st, err := newTestJSON2VideoClient(srv.URL).Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status != model.RenderDone || st.URL != "http://x/video.mp4" {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusErrorMessagePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{
			Movie: &MovieStatus{Status: "error", Message: "bad prompt"},
		})
	}))
	defer srv.Close()

	st, err := newTestJSON2VideoClient(srv.URL).Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Status != model.RenderError || st.Message != "bad prompt" {
		t.Errorf("status = %+v", st)
	}
}

func TestStatusMissingMovie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := newTestJSON2VideoClient(srv.URL).Status(context.Background(), "job-1")
	if err == nil {
		t.Fatal("expected error for missing movie object")
	}
}
