package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

const defaultAPIURL = "https://slack.com/api/"

type Config struct {
	BotToken string        `split_words:"true"`
	APIURL   string        `split_words:"true" default:"https://slack.com/api/"`
	Timeout  time.Duration `split_words:"true" default:"10s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.BotToken) != ""
}

// Sender delivers direct messages to reps, looked up by email.
type Sender struct {
	api *slack.Client
}

var _ contractx.Sender = (*Sender)(nil)

func NewSender(cfg Config) (*Sender, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("slack bot token is required")
	}
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		base = defaultAPIURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	api := slack.New(token,
		slack.OptionHTTPClient(&http.Client{Timeout: timeout}),
		slack.OptionAPIURL(base),
	)
	return &Sender{api: api}, nil
}

// Send opens (or reuses) the DM channel with the recipient and posts the
// message. Rate limits surface as retryable 429 errors.
func (s *Sender) Send(ctx context.Context, msg contractx.OutboundMessage) error {
	email := strings.TrimSpace(msg.To)
	if email == "" {
		return fmt.Errorf("%w: recipient is required", contractx.ErrValidation)
	}

	user, err := s.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return classify("lookup user", err)
	}

	ch, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{user.ID},
	})
	if err != nil {
		return classify("open conversation", err)
	}
	if ch == nil || strings.TrimSpace(ch.ID) == "" {
		return errors.New("open conversation: empty channel id")
	}

	if _, _, err := s.api.PostMessageContext(ctx, ch.ID, slack.MsgOptionText(format(msg), false)); err != nil {
		return classify("post message", err)
	}
	return nil
}

func format(msg contractx.OutboundMessage) string {
	body := strings.TrimSpace(msg.Body)
	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		return "*" + subject + "*\n\n" + body
	}
	return body
}

func classify(op string, err error) error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return fmt.Errorf("%s: 429 rate limited, retry after %s: %w", op, rle.RetryAfter, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
