package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	openrouterx "github.com/tanpawarit/growth-orchestrator/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.4"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"45s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	PlaybookModel       string  `envconfig:"PLAYBOOK_MODEL" split_words:"true"`
	ReviewModel         string  `envconfig:"REVIEW_MODEL" split_words:"true"`
	DigestModel         string  `envconfig:"DIGEST_MODEL" split_words:"true"`
	QueryModel          string  `envconfig:"QUERY_MODEL" split_words:"true"`
	PlaybookTemperature float32 `envconfig:"PLAYBOOK_TEMPERATURE" split_words:"true" default:"-1"`
	ReviewTemperature   float32 `envconfig:"REVIEW_TEMPERATURE" split_words:"true" default:"-1"`
	DigestTemperature   float32 `envconfig:"DIGEST_TEMPERATURE" split_words:"true" default:"-1"`
	QueryTemperature    float32 `envconfig:"QUERY_TEMPERATURE" split_words:"true" default:"-1"`

	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"openai/text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" split_words:"true" default:"1536"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be > 0", contractx.ErrValidation)
	}
	return nil
}

// OpenRouterFor resolves the model and temperature for one run type. Every
// structured run type asks for JSON output; the query streamer does not.
func (c Config) OpenRouterFor(runType contractx.RunType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(m string, t float32) {
		if v := strings.TrimSpace(m); v != "" {
			modelName = v
		}
		if t >= 0 {
			temp = t
		}
	}

	switch runType {
	case contractx.RunTypePlaybook:
		override(c.PlaybookModel, c.PlaybookTemperature)
	case contractx.RunTypeWeeklyReview:
		override(c.ReviewModel, c.ReviewTemperature)
	case contractx.RunTypeDailyDigest:
		override(c.DigestModel, c.DigestTemperature)
	case contractx.RunTypeQuery:
		override(c.QueryModel, c.QueryTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
		JSONMode:           runType != contractx.RunTypeQuery,
	}
}
