package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/pipeline"
)

// JSON2VideoClient handles communication with the json2video movie API.
type JSON2VideoClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	templateID string
}

// movieVariables is the template variable block built from the work item's
// row fields plus the generated scenes.
type movieVariables struct {
	Voice          string        `json:"voice,omitempty"`
	VoiceModel     string        `json:"voiceModel,omitempty"`
	ImageModel     string        `json:"imageModel,omitempty"`
	SubtitlesModel string        `json:"subtitlesModel,omitempty"`
	Scenes         []model.Scene `json:"scenes"`
	FontFamily     string        `json:"fontFamily,omitempty"`
	MusicURL       string        `json:"musicURL,omitempty"`
	MusicVolume    string        `json:"musicVolume,omitempty"`
}

// SubmitMovieRequest represents the movie creation request body
type SubmitMovieRequest struct {
	Template  string         `json:"template"`
	Variables movieVariables `json:"variables"`
}

// SubmitMovieResponse represents the movie creation response
type SubmitMovieResponse struct {
	Project string `json:"project"`
}

// MovieStatus represents one status snapshot of a submitted movie
type MovieStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusResponse represents the movie status response envelope
type StatusResponse struct {
	Movie *MovieStatus `json:"movie"`
}

// NewJSON2VideoClient creates a new json2video API client
func NewJSON2VideoClient(cfg *config.JSON2VideoConfig) *JSON2VideoClient {
	return &JSON2VideoClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		templateID: cfg.TemplateID,
	}
}

// Submit starts a render job for the given work item and scene list and
// returns the opaque project id used to poll it.
func (c *JSON2VideoClient) Submit(ctx context.Context, item *model.WorkItem, scenes []model.Scene) (string, error) {
	if c.apiKey == "" || c.templateID == "" {
		return "", pipeline.WrapKind(pipeline.KindConfiguration, errors.New("JSON2VIDEO_API_KEY or JSON2VIDEO_TEMPLATE_ID is not set"))
	}

	req := SubmitMovieRequest{
		Template: c.templateID,
		Variables: movieVariables{
			Voice:          item.Field("voiceID"),
			VoiceModel:     item.Field("voiceModel"),
			ImageModel:     item.Field("imageModel"),
			SubtitlesModel: item.Field("subtitleModel"),
			Scenes:         scenes,
			FontFamily:     item.Field("subtitleFont"),
			MusicURL:       item.Field("musicUrl"),
			MusicVolume:    "0.05",
		},
	}

	var result SubmitMovieResponse
	if err := c.post(ctx, "/movies", req, &result); err != nil {
		return "", err
	}
	if result.Project == "" {
		return "", errors.New(`no "project" in submit response`)
	}
	return result.Project, nil
}

// Status retrieves the current status of a submitted movie.
func (c *JSON2VideoClient) Status(ctx context.Context, project string) (*model.RenderStatus, error) {
	if c.apiKey == "" {
		return nil, pipeline.WrapKind(pipeline.KindConfiguration, errors.New("JSON2VIDEO_API_KEY is not set"))
	}

	var result StatusResponse
	endpoint := "/movies?project=" + url.QueryEscape(project)
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	if result.Movie == nil {
		return nil, errors.New(`no "movie" in status response`)
	}

	return &model.RenderStatus{
		Status:  result.Movie.Status,
		URL:     result.Movie.URL,
		Message: result.Movie.Message,
	}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *JSON2VideoClient) IsConfigured() bool {
	return c.apiKey != "" && c.templateID != ""
}

func (c *JSON2VideoClient) post(ctx context.Context, endpoint string, body, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *JSON2VideoClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, result)
}

func (c *JSON2VideoClient) do(req *http.Request, result interface{}) error {
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("json2video API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
