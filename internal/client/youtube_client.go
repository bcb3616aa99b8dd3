package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/shortfactory/api/internal/config"
	"github.com/shortfactory/api/internal/pipeline"
)

// YouTubeClient publishes rendered videos via the YouTube Data API v3 using
// an OAuth2 refresh token.
type YouTubeClient struct {
	cfg *config.YouTubeConfig
}

// NewYouTubeClient creates a new YouTube upload client
func NewYouTubeClient(cfg *config.YouTubeConfig) *YouTubeClient {
	return &YouTubeClient{cfg: cfg}
}

// Upload publishes the local file with the given metadata and returns the
// published video id.
func (c *YouTubeClient) Upload(ctx context.Context, path string, meta pipeline.UploadMetadata) (string, error) {
	if !c.IsConfigured() {
		return "", pipeline.WrapKind(pipeline.KindConfiguration,
			errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET or YOUTUBE_REFRESH_TOKEN is not set"))
	}

	svc, err := c.newService(ctx)
	if err != nil {
		return "", err
	}

	privacy := meta.Privacy
	if privacy == "" {
		privacy = "private"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        splitTags(meta.Tags),
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: true,
		},
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		log.Printf("[youtube] Uploading %q (%.1f MB)", meta.Title, float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload failed: %w", err)
	}

	return uploaded.Id, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *YouTubeClient) IsConfigured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != "" && c.cfg.RefreshToken != ""
}

func (c *YouTubeClient) newService(ctx context.Context) (*youtube.Service, error) {
	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}

	token := &oauth2.Token{
		RefreshToken: c.cfg.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return svc, nil
}

func splitTags(tags string) []string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
