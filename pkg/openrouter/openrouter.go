// Package openrouter builds chat and embedding clients against an
// OpenAI-compatible gateway, OpenRouter by default.
package openrouter

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// reasoningExcluded lists models that stream reasoning tokens into the
// content unless told otherwise. Those tokens break JSON parsing.
var reasoningExcluded = map[string]bool{
	"x-ai/grok-4.1-fast": true,
}

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"45s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// JSONMode asks the provider for a single JSON object response.
	JSONMode bool `ignored:"true"`
}

// New builds the chat model used by one decision service.
func (c *Config) New(ctx context.Context) (model.ToolCallingChatModel, error) {
	name := strings.TrimSpace(c.Model)
	if name == "" {
		return nil, fmt.Errorf("openrouter: model is required")
	}

	temperature := c.Temperature
	conf := &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       name,
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &temperature,
		Timeout:     c.Timeout,
	}
	if extra := c.extraFields(name); len(extra) > 0 {
		conf.ExtraFields = extra
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model %s: %w", name, err)
	}
	return m, nil
}

func (c *Config) extraFields(name string) map[string]any {
	extra := map[string]any{}
	if reasoningExcluded[name] {
		extra["reasoning"] = map[string]any{"exclude": true, "effort": "none"}
	}
	if c.JSONMode {
		extra["response_format"] = map[string]any{"type": "json_object"}
	}
	return extra
}

// NewClient returns an OpenAI SDK client for the embeddings endpoint, or nil
// when no API key is configured.
func NewClient(cfg Config) *openaisdk.Client {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	// attribution headers shown on the OpenRouter dashboard
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}
