package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	HeaderSecret         = "X-Webhook-Secret"
	HeaderSignature      = "X-Webhook-Signature"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderEventType      = "X-Event-Type"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

type Config struct {
	Timeout   time.Duration `split_words:"true" default:"10s"`
	UserAgent string        `split_words:"true" default:"growth-orchestrator-webhook/1"`
}

type Client struct {
	userAgent  string
	httpClient *http.Client
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.StatusCode, e.Body)
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		userAgent: strings.TrimSpace(cfg.UserAgent),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Message is one signed POST to a tenant endpoint.
type Message struct {
	URL       string
	Secret    string
	EventID   string
	EventType string
	Body      []byte
}

// Post delivers the JSON body. The event id doubles as the idempotency key so
// receivers can drop redelivered events.
func (c *Client) Post(ctx context.Context, msg Message) error {
	target := strings.TrimSpace(msg.URL)
	if target == "" {
		return errors.New("webhook url is required")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(msg.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if msg.EventID != "" {
		req.Header.Set(HeaderIdempotencyKey, msg.EventID)
	}
	if msg.EventType != "" {
		req.Header.Set(HeaderEventType, msg.EventType)
	}
	if msg.Secret != "" {
		req.Header.Set(HeaderSecret, msg.Secret)
		req.Header.Set(HeaderSignature, Sign(msg.Secret, msg.Body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret string, body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
