package slack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

func TestSendLooksUpUserAndPostsDM(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var posted, lookedUp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/api/users.lookupByEmail":
			lookedUp = r.Form.Get("email")
			_, _ = w.Write([]byte(`{"ok":true,"user":{"id":"U123","name":"amy"}}`))
		case "/api/conversations.open":
			_, _ = w.Write([]byte(`{"ok":true,"channel":{"id":"D456"}}`))
		case "/api/chat.postMessage":
			posted = r.Form.Get("channel") + "|" + r.Form.Get("text")
			_, _ = w.Write([]byte(`{"ok":true,"channel":"D456","ts":"1700000000.000100"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewSender(Config{BotToken: "xoxb-test", APIURL: srv.URL + "/api"})
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	err = s.Send(context.Background(), contractx.OutboundMessage{
		To:      "amy@example.com",
		Subject: "Daily digest",
		Body:    "Call Acme first.",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if lookedUp != "amy@example.com" {
		t.Fatalf("looked up %q", lookedUp)
	}
	if posted != "D456|*Daily digest*\n\nCall Acme first." {
		t.Fatalf("posted %q", posted)
	}
}

func TestSendUnknownUserIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"users_not_found"}`))
	}))
	defer srv.Close()

	s, err := NewSender(Config{BotToken: "xoxb-test", APIURL: srv.URL + "/api/"})
	if err != nil {
		t.Fatalf("NewSender() error = %v", err)
	}
	err = s.Send(context.Background(), contractx.OutboundMessage{To: "ghost@example.com", Body: "hi"})
	if err == nil || !strings.Contains(err.Error(), "users_not_found") {
		t.Fatalf("Send() error = %v", err)
	}
	if retry.DefaultRetryable(err) {
		t.Fatalf("unknown user classified as retryable: %v", err)
	}
}

func TestNewSenderRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewSender(Config{}); err == nil {
		t.Fatal("expected error without token")
	}
}
