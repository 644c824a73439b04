package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/llm/llmtest"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

type verdict struct {
	Ready      bool    `json:"ready"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string  `json:"reason" validate:"required"`
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestStructuredCallerParsesFencedJSON(t *testing.T) {
	t.Parallel()

	fake := &llmtest.ChatModel{Replies: []llmtest.Reply{
		{Content: "```json\n{\"ready\":true,\"confidence\":0.8,\"reason\":\"steady growth {q3}\"}\n```"},
	}}
	caller, err := NewStructuredCaller[verdict](context.Background(), fake, contractx.RunTypeWeeklyReview, testPolicy())
	if err != nil {
		t.Fatalf("NewStructuredCaller() error = %v", err)
	}

	out, err := caller.Call(context.Background(), "system with {braces}", "review account")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !out.Ready || out.Confidence != 0.8 || out.Reason != "steady growth {q3}" {
		t.Fatalf("out = %+v", out)
	}

	calls := fake.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if got := llmtest.SystemText(calls[0]); got != "system with {braces}" {
		t.Fatalf("system text = %q", got)
	}
}

func TestStructuredCallerRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	fake := &llmtest.ChatModel{Replies: []llmtest.Reply{
		{Err: errors.New("status 503 service unavailable")},
		{Content: `{"ready":false,"confidence":0.2,"reason":"flat revenue"}`},
	}}
	caller, err := NewStructuredCaller[verdict](context.Background(), fake, contractx.RunTypeWeeklyReview, testPolicy())
	if err != nil {
		t.Fatalf("NewStructuredCaller() error = %v", err)
	}

	if _, err := caller.Call(context.Background(), "sys", "in"); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if n := len(fake.Calls()); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestStructuredCallerErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		reply llmtest.Reply
		want  error
		calls int
	}{
		{name: "malformed json", reply: llmtest.Reply{Content: "not json"}, want: contractx.ErrSchemaViolation, calls: 1},
		{name: "validation", reply: llmtest.Reply{Content: `{"ready":true,"confidence":1.4,"reason":"x"}`}, want: contractx.ErrSchemaViolation, calls: 1},
		{name: "permanent model error", reply: llmtest.Reply{Err: errors.New("401 unauthorized")}, want: contractx.ErrModelInvoke, calls: 1},
	}
	for _, tc := range cases {
		fake := &llmtest.ChatModel{Replies: []llmtest.Reply{tc.reply, tc.reply, tc.reply}}
		caller, err := NewStructuredCaller[verdict](context.Background(), fake, contractx.RunTypeWeeklyReview, testPolicy())
		if err != nil {
			t.Fatalf("%s: NewStructuredCaller() error = %v", tc.name, err)
		}
		_, err = caller.Call(context.Background(), "sys", "in")
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: Call() error = %v, want %v", tc.name, err, tc.want)
		}
		if n := len(fake.Calls()); n != tc.calls {
			t.Fatalf("%s: calls = %d, want %d", tc.name, n, tc.calls)
		}
	}
}

func TestStreamCallerReturnsPartialOnError(t *testing.T) {
	t.Parallel()

	fake := &llmtest.ChatModel{
		StreamChunks: []string{"Acme ", "is ", "growing"},
		StreamErr:    errors.New("connection reset"),
	}
	caller, err := NewStreamCaller(fake, testPolicy())
	if err != nil {
		t.Fatalf("NewStreamCaller() error = %v", err)
	}

	var tokens []string
	answer, err := caller.Open(context.Background(), "sys", "q", func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Open() error = %v, want ErrModelInvoke", err)
	}
	if answer != "Acme is growing" || len(tokens) != 3 {
		t.Fatalf("answer = %q tokens = %v", answer, tokens)
	}
}

func TestStreamCallerOpenFailure(t *testing.T) {
	t.Parallel()

	fake := &llmtest.ChatModel{OpenErr: errors.New("401 unauthorized")}
	caller, err := NewStreamCaller(fake, testPolicy())
	if err != nil {
		t.Fatalf("NewStreamCaller() error = %v", err)
	}

	answer, err := caller.Open(context.Background(), "sys", "q", nil)
	if !errors.Is(err, ErrStreamOpen) || !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Open() error = %v, want ErrStreamOpen and ErrModelInvoke", err)
	}
	if answer != "" {
		t.Fatalf("answer = %q, want empty", answer)
	}
	if n := len(fake.Calls()); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}

	fake = &llmtest.ChatModel{StreamChunks: []string{"Acme"}, StreamErr: errors.New("connection reset")}
	caller, _ = NewStreamCaller(fake, testPolicy())
	if _, err := caller.Open(context.Background(), "sys", "q", nil); errors.Is(err, ErrStreamOpen) {
		t.Fatalf("mid-stream error = %v, must not be ErrStreamOpen", err)
	}
}

func TestEmbedderCallsEmbeddingsEndpoint(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"busy"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":3,"total_tokens":3}}`))
	}))
	defer srv.Close()

	client := openaisdk.NewClient(option.WithAPIKey("sk-test"), option.WithBaseURL(srv.URL))
	emb, err := NewEmbedder(&client, "text-embedding-3-small", 3, testPolicy())
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}

	vec, err := emb.Embed(context.Background(), "Acme Supply plumbing midwest")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("vec = %v", vec)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := StripCodeFence(tc.in); got != tc.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
