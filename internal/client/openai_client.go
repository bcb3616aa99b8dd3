package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/model"
	"github.com/shortfactory/api/internal/pipeline"
)

// scenesSystemPrompt constrains the script format: bounded scene count,
// minimum voice-over length and safe English image prompts are all enforced
// here rather than in the pipeline.
const scenesSystemPrompt = `Create a script of a social media video about the topic included below.

The video will be organized in scenes. Each scene has a voice over and an image.
The voice over text must be at least 20 words.
There should be not more than 4 scenes.
Your response must be in JSON format following this schema:
{
   "scenes": [{
      "voiceOverText": "",
      "imagePrompt": ""
    }]
}

The image prompt must be written in ENGLISH, being detailed and photo realistic. In the image prompt, you MUST AVOID describing any situation in the image that can be considered unappropriate (violence, disgusting, gore, sex, nudity, NSFW, etc) as it may be rejected by the AI service.`

// OpenAIClient handles communication with an OpenAI-compatible chat
// completion API.
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat selects structured output mode
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(cfg *config.OpenAIConfig) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// GenerateScenes asks the model for the scene list of a video about the given
// topic. The response must be a JSON object with a "scenes" array; a missing
// field is an error, an empty array is not.
func (c *OpenAIClient) GenerateScenes(ctx context.Context, topic, description string) ([]model.Scene, error) {
	if c.apiKey == "" {
		return nil, pipeline.WrapKind(pipeline.KindConfiguration, errors.New("OPENAI_API_KEY is not set"))
	}

	userPrompt := fmt.Sprintf("Topic: %q.\nDescription: %q", topic, description)

	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: scenesSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message.Content == "" {
		return nil, errors.New("empty completion response")
	}

	// A nil Scenes pointer distinguishes a missing "scenes" field from an
	// empty scene list.
	var parsed struct {
		Scenes *[]model.Scene `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(chatResp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("malformed scenes payload: %w", err)
	}
	if parsed.Scenes == nil {
		return nil, errors.New(`completion response has no "scenes" field`)
	}

	return *parsed.Scenes, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}
