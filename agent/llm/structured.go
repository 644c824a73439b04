package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

// StructuredCaller issues one reasoning call and decodes the reply into T.
// Transport failures are retried; malformed or invalid output is not.
type StructuredCaller[T any] struct {
	runType contractx.RunType
	runner  compose.Runnable[map[string]any, *schema.Message]
	parser  schema.MessageParser[T]
	policy  retry.Policy
}

func NewStructuredCaller[T any](
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	runType contractx.RunType,
	policy retry.Policy,
) (*StructuredCaller[T], error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}

	runner, err := compilePromptGraph(ctx, chatModel, string(runType)+".structured_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	return &StructuredCaller[T]{
		runType: runType,
		runner:  runner,
		parser: schema.NewMessageJSONParser[T](&schema.MessageJSONParseConfig{
			ParseFrom: schema.MessageParseFromContent,
		}),
		policy: policy,
	}, nil
}

func (c *StructuredCaller[T]) Call(ctx context.Context, system, input string) (T, error) {
	var zero T

	started := time.Now()
	msg, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*schema.Message, error) {
		return c.runner.Invoke(ctx, map[string]any{
			"system": system,
			"input":  input,
		})
	})
	metrics.ObserveReasoning(string(c.runType), started, err)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", contractx.ErrModelInvoke, c.runType, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return zero, fmt.Errorf("%w: %s: empty response", contractx.ErrSchemaViolation, c.runType)
	}

	out, err := c.parser.Parse(ctx, &schema.Message{
		Role:    schema.Assistant,
		Content: StripCodeFence(msg.Content),
	})
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", contractx.ErrSchemaViolation, c.runType, err)
	}
	if err := contractx.ValidateOutput(out); err != nil {
		return zero, fmt.Errorf("%s: %w", c.runType, err)
	}
	return out, nil
}

// StripCodeFence removes a surrounding ```json fence some models add even in
// JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// The system text travels as a template variable so braces inside rendered
// context are never interpreted as placeholders.
func compilePromptGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	graphName string,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{input}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName(graphName))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", graphName, err)
	}
	return runner, nil
}
