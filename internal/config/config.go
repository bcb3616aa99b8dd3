package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Sheets     SheetsConfig
	OpenAI     OpenAIConfig
	JSON2Video JSON2VideoConfig
	YouTube    YouTubeConfig
	Workflow   WorkflowConfig
}

type ServerConfig struct {
	Port string `validate:"required"`
	Env  string
}

type RedisConfig struct {
	Addr     string `validate:"required"`
	Password string
	DB       int
}

// SheetsConfig identifies the spreadsheet acting as the work-item store and
// the service account used to read/write it. The private key may carry
// literal "\n" sequences (single-line env var form).
type SheetsConfig struct {
	SpreadsheetID string
	SheetName     string
	ClientEmail   string
	PrivateKey    string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string `validate:"required,url"`
	Model   string `validate:"required"`
}

type JSON2VideoConfig struct {
	APIKey       string
	TemplateID   string
	BaseURL      string `validate:"required,url"`
	PollInterval int    `validate:"min=1"` // seconds
}

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type WorkflowConfig struct {
	TriggerStatus string `validate:"required"`
	LockTTL       int    `validate:"min=1"` // minutes
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("JSON2VIDEO_API_KEY")
	readSecret("GOOGLE_PRIVATE_KEY")
	readSecret("YOUTUBE_CLIENT_SECRET")
	readSecret("YOUTUBE_REFRESH_TOKEN")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Defaults
	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4.1-mini")
	viper.SetDefault("json2video.base_url", "https://api.json2video.com/v2")
	viper.SetDefault("json2video.poll_interval", 15)
	viper.SetDefault("workflow.trigger_status", "production")
	viper.SetDefault("workflow.lock_ttl", 360)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Sheets: SheetsConfig{
			SpreadsheetID: viper.GetString("google_sheets_spreadsheet_id"),
			SheetName:     viper.GetString("google_sheets_sheet_name"),
			ClientEmail:   viper.GetString("google_client_email"),
			PrivateKey:    normalizePrivateKey(viper.GetString("google_private_key")),
		},
		OpenAI: OpenAIConfig{
			APIKey:  viper.GetString("openai_api_key"),
			BaseURL: viper.GetString("openai.base_url"),
			Model:   viper.GetString("openai.model"),
		},
		JSON2Video: JSON2VideoConfig{
			APIKey:       viper.GetString("json2video_api_key"),
			TemplateID:   viper.GetString("json2video_template_id"),
			BaseURL:      viper.GetString("json2video.base_url"),
			PollInterval: viper.GetInt("json2video.poll_interval"),
		},
		YouTube: YouTubeConfig{
			ClientID:     viper.GetString("youtube_client_id"),
			ClientSecret: viper.GetString("youtube_client_secret"),
			RefreshToken: viper.GetString("youtube_refresh_token"),
		},
		Workflow: WorkflowConfig{
			TriggerStatus: viper.GetString("workflow.trigger_status"),
			LockTTL:       viper.GetInt("workflow.lock_ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural constraints on the loaded configuration.
// External API credentials are deliberately not required here: an
// unconfigured collaborator fails its own pipeline stage at run time instead
// of preventing the server from starting.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// normalizePrivateKey converts single-line "\n"-escaped PEM material back
// into a multi-line key.
func normalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}
