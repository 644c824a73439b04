// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ einomodel.BaseChatModel = (*ChatModel)(nil)

// ChatModel replays scripted replies. Respond, when set, wins over Replies.
type ChatModel struct {
	mu sync.Mutex

	Replies []Reply
	Respond func(input []*schema.Message) (string, error)

	StreamChunks []string
	StreamErr    error
	OpenErr      error

	calls [][]*schema.Message
}

type Reply struct {
	Content string
	Err     error
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, input)
	respond := m.Respond
	var reply Reply
	ok := idx < len(m.Replies)
	if ok {
		reply = m.Replies[idx]
	}
	m.mu.Unlock()

	if respond != nil {
		content, err := respond(input)
		if err != nil {
			return nil, err
		}
		return schema.AssistantMessage(content, nil), nil
	}
	if !ok {
		return nil, errors.New("no fake response left")
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return schema.AssistantMessage(reply.Content, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.calls = append(m.calls, input)
	m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(m.StreamChunks) + 1)
	for _, c := range m.StreamChunks {
		sw.Send(schema.AssistantMessage(c, nil), nil)
	}
	if m.StreamErr != nil {
		sw.Send(nil, m.StreamErr)
	}
	sw.Close()
	return sr, nil
}

// Calls returns the message lists received so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*schema.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// SystemText returns the system message of a call, or "".
func SystemText(msgs []*schema.Message) string {
	for _, msg := range msgs {
		if msg.Role == schema.System {
			return msg.Content
		}
	}
	return ""
}

// UserText returns the last user message of a call, or "".
func UserText(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schema.User {
			return msgs[i].Content
		}
	}
	return ""
}
