package llm

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

var _ contractx.Embedder = (*Embedder)(nil)

// Embedder calls the embeddings endpoint with one fixed model and dimension.
type Embedder struct {
	client     *openaisdk.Client
	model      string
	dimensions int
	policy     retry.Policy
}

func NewEmbedder(client *openaisdk.Client, model string, dimensions int, policy retry.Policy) (*Embedder, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: embedding client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: embedding model is required", contractx.ErrValidation)
	}
	return &Embedder{
		client:     client,
		model:      strings.TrimSpace(model),
		dimensions: dimensions,
		policy:     policy,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfString: openaisdk.String(text)},
		Model: openaisdk.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openaisdk.Int(int64(e.dimensions))
	}

	resp, err := retry.Do(ctx, e.policy, func(ctx context.Context) (*openaisdk.CreateEmbeddingResponse, error) {
		// retries are owned by the retry policy
		return e.client.Embeddings.New(ctx, params, option.WithMaxRetries(0))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", contractx.ErrModelInvoke, err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: embed: empty response", contractx.ErrSchemaViolation)
	}

	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", contractx.ErrSchemaViolation, len(vec), e.dimensions)
	}
	return vec, nil
}
