// Package delivery is the outbound event queue. Events are persisted first
// and then pushed to the tenant's webhook or event topic by delivery passes.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
	"github.com/tanpawarit/growth-orchestrator/pkg/webhook"
)

// ErrPassInProgress is returned when another pass already holds the tenant.
var ErrPassInProgress = errors.New("delivery pass already running for tenant")

const (
	SinkWebhook = "webhook"
	SinkKafka   = "kafka"
	SinkNone    = "none"
)

type Config struct {
	MaxAttempts int           `split_words:"true" default:"5"`
	// BatchSize is the page size a pass reads pending entries in.
	BatchSize   int           `split_words:"true" default:"100"`
	Interval    time.Duration `split_words:"true" default:"30s"`
}

type Repository interface {
	GetTenant(ctx context.Context, tenantID string) (*storex.Tenant, error)
	ListTenants(ctx context.Context) ([]storex.Tenant, error)
	InsertDelivery(ctx context.Context, entry *storex.DeliveryEntry) error
	ListPendingDeliveries(ctx context.Context, tenantID string, after storex.PendingCursor, limit int) ([]storex.DeliveryEntry, error)
	MarkDeliverySent(ctx context.Context, id string) (bool, error)
	RecordDeliveryFailure(ctx context.Context, id, lastError string, maxAttempts int) (bool, error)
}

type WebhookPoster interface {
	Post(ctx context.Context, msg webhook.Message) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, value []byte) error
}

// Envelope is the JSON body sent to every sink.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id"`
	AccountID  string          `json:"account_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type Result struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Retrying int `json:"retrying"`
	Skipped  int `json:"skipped"`
}

type Queue struct {
	repo      Repository
	webhook   WebhookPoster
	publisher Publisher
	cfg       Config
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ contractx.Notifier = (*Queue)(nil)

type Option func(*Queue)

// WithPublisher enables the event-topic sink for tenants without a webhook.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func NewQueue(repo Repository, poster WebhookPoster, cfg Config, opts ...Option) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	q := &Queue{
		repo:    repo,
		webhook: poster,
		cfg:     cfg,
		now:     time.Now,
		locks:   map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates and persists an event as a pending entry. The returned
// id is also the idempotency key seen by receivers.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, event contractx.Event) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("%w: tenant_id is required", contractx.ErrValidation)
	}
	if err := contractx.ValidateEvent(event); err != nil {
		return "", err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	id := idgen.EventID()
	payload, err := json.Marshal(Envelope{
		ID:         id,
		Type:       string(event.EventType()),
		TenantID:   tenantID,
		AccountID:  event.Account(),
		OccurredAt: q.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	if err := q.repo.InsertDelivery(ctx, &storex.DeliveryEntry{
		ID:        id,
		TenantID:  tenantID,
		EventType: string(event.EventType()),
		AccountID: event.Account(),
		Payload:   string(payload),
	}); err != nil {
		return "", err
	}

	log.Debug().
		Str("tenant_id", tenantID).
		Str("event_id", id).
		Str("event_type", string(event.EventType())).
		Msg("event queued")
	return id, nil
}

// Notify enqueues the event and runs one delivery pass for the tenant. Only
// the enqueue can fail; the pass is best effort.
func (q *Queue) Notify(ctx context.Context, tenantID string, event contractx.Event) (string, error) {
	id, err := q.Enqueue(ctx, tenantID, event)
	if err != nil {
		return "", err
	}
	if _, err := q.ProcessPending(ctx, tenantID); err != nil && !errors.Is(err, ErrPassInProgress) {
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("event_id", id).Msg("inline delivery pass failed")
	}
	return id, nil
}

// ProcessPending makes one attempt at every pending entry of the tenant,
// oldest first, reading them in pages of Config.BatchSize. Entries of a
// tenant with no sink stay pending untouched.
func (q *Queue) ProcessPending(ctx context.Context, tenantID string) (Result, error) {
	var res Result

	unlock, ok := q.tryLock(tenantID)
	if !ok {
		return res, ErrPassInProgress
	}
	defer unlock()

	tenant, err := q.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return res, err
	}
	sink := q.sinkFor(tenant)
	logger := log.With().Str("tenant_id", tenantID).Str("sink", sink).Logger()

	var cursor storex.PendingCursor
	for {
		page, err := q.repo.ListPendingDeliveries(ctx, tenantID, cursor, q.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if sink == SinkNone {
			res.Skipped += len(page)
		} else {
			for _, entry := range page {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				if err := q.attempt(ctx, sink, tenant, entry, &res, logger); err != nil {
					return res, err
				}
			}
		}
		if len(page) < q.cfg.BatchSize {
			break
		}
		cursor = storex.CursorAfter(page[len(page)-1])
	}

	if res.Sent+res.Failed+res.Retrying > 0 {
		logger.Info().
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Int("retrying", res.Retrying).
			Msg("delivery pass finished")
	}
	return res, nil
}

// attempt sends one entry and records the outcome. Only store errors are
// returned.
func (q *Queue) attempt(ctx context.Context, sink string, tenant *storex.Tenant, entry storex.DeliveryEntry, res *Result, logger zerolog.Logger) error {
	sendErr := q.send(ctx, sink, tenant, entry)
	if sendErr == nil {
		changed, err := q.repo.MarkDeliverySent(ctx, entry.ID)
		if err != nil {
			return err
		}
		if changed {
			res.Sent++
			metrics.DeliveryAttempt(sink, "sent")
		}
		return nil
	}

	changed, err := q.repo.RecordDeliveryFailure(ctx, entry.ID, sendErr.Error(), q.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if entry.Attempts+1 >= q.cfg.MaxAttempts {
		res.Failed++
		metrics.DeliveryAttempt(sink, "failed")
		logger.Error().Err(sendErr).Str("event_id", entry.ID).Int("attempts", entry.Attempts+1).Msg("delivery abandoned")
	} else {
		res.Retrying++
		metrics.DeliveryAttempt(sink, "retry")
		logger.Warn().Err(sendErr).Str("event_id", entry.ID).Int("attempts", entry.Attempts+1).Msg("delivery attempt failed")
	}
	return nil
}

// ProcessAll runs a pass for every tenant. One tenant's error does not stop
// the others.
func (q *Queue) ProcessAll(ctx context.Context) (Result, error) {
	var total Result
	tenants, err := q.repo.ListTenants(ctx)
	if err != nil {
		return total, err
	}
	for _, t := range tenants {
		res, err := q.ProcessPending(ctx, t.ID)
		if err != nil {
			if !errors.Is(err, ErrPassInProgress) {
				log.Warn().Err(err).Str("tenant_id", t.ID).Msg("delivery pass failed")
			}
			continue
		}
		total.Sent += res.Sent
		total.Failed += res.Failed
		total.Retrying += res.Retrying
		total.Skipped += res.Skipped
	}
	return total, nil
}

func (q *Queue) sinkFor(t *storex.Tenant) string {
	switch {
	case t.WebhookURL != "" && q.webhook != nil:
		return SinkWebhook
	case t.EventTopic != "" && q.publisher != nil:
		return SinkKafka
	default:
		return SinkNone
	}
}

func (q *Queue) send(ctx context.Context, sink string, t *storex.Tenant, entry storex.DeliveryEntry) error {
	if sink == SinkKafka {
		return q.publisher.Publish(ctx, t.EventTopic, entry.ID, entry.EventType, []byte(entry.Payload))
	}
	return q.webhook.Post(ctx, webhook.Message{
		URL:       t.WebhookURL,
		Secret:    t.WebhookSecret,
		EventID:   entry.ID,
		EventType: entry.EventType,
		Body:      []byte(entry.Payload),
	})
}

func (q *Queue) tryLock(tenantID string) (func(), bool) {
	q.mu.Lock()
	l, ok := q.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[tenantID] = l
	}
	q.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}
