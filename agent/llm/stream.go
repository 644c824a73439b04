package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

// ErrStreamOpen marks a stream that failed before the model sent anything.
var ErrStreamOpen = errors.New("stream not opened")

// StreamCaller opens a token stream. Only opening the stream is retried; the
// model client's own timeout bounds the open, and the caller's context bounds
// the stream.
type StreamCaller struct {
	chatModel einomodel.BaseChatModel
	policy    retry.Policy
}

func NewStreamCaller(chatModel einomodel.BaseChatModel, policy retry.Policy) (*StreamCaller, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	policy.Timeout = 0
	return &StreamCaller{chatModel: chatModel, policy: policy}, nil
}

// Open starts streaming. onToken receives each non-empty content delta in
// order. The returned text is everything received, even when err is set.
func (c *StreamCaller) Open(ctx context.Context, system, input string, onToken func(string) error) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(input),
	}

	reader, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*schema.StreamReader[*schema.Message], error) {
		return c.chatModel.Stream(ctx, messages)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w: %v", contractx.ErrModelInvoke, ErrStreamOpen, err)
	}
	defer reader.Close()

	var answer []byte
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return string(answer), nil
		}
		if err != nil {
			return string(answer), fmt.Errorf("%w: stream: %v", contractx.ErrModelInvoke, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		answer = append(answer, chunk.Content...)
		if onToken != nil {
			if err := onToken(chunk.Content); err != nil {
				return string(answer), err
			}
		}
	}
}
