package openrouter

import (
	"context"
	"testing"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if c := NewClient(Config{BaseURL: "https://openrouter.ai/api/v1"}); c != nil {
		t.Fatal("expected nil client without api key")
	}
	if c := NewClient(Config{APIKey: "sk-test", BaseURL: "https://openrouter.ai/api/v1/"}); c == nil {
		t.Fatal("expected client with api key")
	}
}

func TestNewBuildsChatModelInJSONMode(t *testing.T) {
	t.Parallel()

	maxTokens := 512
	conf := &Config{
		BaseURL:            "https://openrouter.ai/api/v1",
		APIKey:             "sk-test",
		Model:              "openai/gpt-4o-mini",
		MaxCompletionToken: &maxTokens,
		Temperature:        0.2,
		JSONMode:           true,
	}
	m, err := conf.New(context.Background())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m == nil {
		t.Fatal("expected chat model")
	}
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	conf := &Config{APIKey: "sk-test", Model: "  "}
	if _, err := conf.New(context.Background()); err == nil {
		t.Fatal("expected error without model")
	}
}

func TestExtraFields(t *testing.T) {
	t.Parallel()

	conf := &Config{JSONMode: true}
	extra := conf.extraFields("x-ai/grok-4.1-fast")
	if _, ok := extra["reasoning"]; !ok {
		t.Fatalf("extra = %v, want reasoning exclusion", extra)
	}
	if rf, ok := extra["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
		t.Fatalf("extra = %v, want json response format", extra)
	}

	plain := (&Config{}).extraFields("openai/gpt-4o-mini")
	if len(plain) != 0 {
		t.Fatalf("extra = %v, want none", plain)
	}
}
