package store

import (
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

// Tenant carries the per-tenant delivery settings.
type Tenant struct {
	bun.BaseModel `bun:"table:tenants"`

	ID            string    `bun:"id,pk"`
	Name          string    `bun:"name"`
	WebhookURL    string    `bun:"webhook_url"`
	WebhookSecret string    `bun:"webhook_secret"`
	EventTopic    string    `bun:"event_topic"`
	CreatedAt     time.Time `bun:"created_at"`
}

type Rep struct {
	bun.BaseModel `bun:"table:reps"`

	ID       string `bun:"id,pk"`
	TenantID string `bun:"tenant_id"`
	Email    string `bun:"email"`
	Name     string `bun:"name"`
	Active   bool   `bun:"active"`
}

type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID               string     `bun:"id,pk"`
	TenantID         string     `bun:"tenant_id"`
	Name             string     `bun:"name"`
	Segment          string     `bun:"segment"`
	Region           string     `bun:"region"`
	OwnerEmail       string     `bun:"owner_email"`
	Status           string     `bun:"status"`
	RiskLevel        string     `bun:"risk_level"`
	GraduationReason string     `bun:"graduation_reason"`
	EnrolledAt       *time.Time `bun:"enrolled_at"`
	GraduatedAt      *time.Time `bun:"graduated_at"`
	CreatedAt        time.Time  `bun:"created_at"`
	UpdatedAt        time.Time  `bun:"updated_at"`
}

type MetricsSnapshot struct {
	bun.BaseModel `bun:"table:metrics_snapshots"`

	ID                  string    `bun:"id,pk"`
	TenantID            string    `bun:"tenant_id"`
	AccountID           string    `bun:"account_id"`
	RevenueT12M         float64   `bun:"revenue_t12m"`
	RevenueT3M          float64   `bun:"revenue_t3m"`
	GrowthRate          float64   `bun:"growth_rate"`
	CategoryPenetration float64   `bun:"category_penetration"`
	OpportunityScore    float64   `bun:"opportunity_score"`
	DaysSinceLastOrder  int       `bun:"days_since_last_order"`
	CapturedAt          time.Time `bun:"captured_at"`
}

type Contact struct {
	bun.BaseModel `bun:"table:contacts"`

	ID        string `bun:"id,pk"`
	TenantID  string `bun:"tenant_id"`
	AccountID string `bun:"account_id"`
	Name      string `bun:"name"`
	Role      string `bun:"role"`
	Email     string `bun:"email"`
	IsPrimary bool   `bun:"is_primary"`
}

type SpendGap struct {
	bun.BaseModel `bun:"table:spend_gaps"`

	ID                   string  `bun:"id,pk"`
	TenantID             string  `bun:"tenant_id"`
	AccountID            string  `bun:"account_id"`
	Category             string  `bun:"category"`
	CurrentSpend         float64 `bun:"current_spend"`
	BenchmarkSpend       float64 `bun:"benchmark_spend"`
	EstimatedOpportunity float64 `bun:"estimated_opportunity"`
}

type Interaction struct {
	bun.BaseModel `bun:"table:interactions"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id"`
	AccountID  string    `bun:"account_id"`
	Kind       string    `bun:"kind"`
	Summary    string    `bun:"summary"`
	Outcome    string    `bun:"outcome"`
	OccurredAt time.Time `bun:"occurred_at"`
}

// Plan statuses.
const (
	PlanActive  = "active"
	PlanRotated = "rotated"
)

type Plan struct {
	bun.BaseModel `bun:"table:plans"`

	ID             string      `bun:"id,pk"`
	TenantID       string      `bun:"tenant_id"`
	AccountID      string      `bun:"account_id"`
	Status         string      `bun:"status"`
	PlaybookType   string      `bun:"playbook_type"`
	Urgency        string      `bun:"urgency"`
	HeadlineAction string      `bun:"headline_action"`
	Content        PlanContent `bun:"content,type:text"`
	CreatedAt      time.Time   `bun:"created_at"`
	RotatedAt      *time.Time  `bun:"rotated_at"`
}

type PlanContent struct {
	OutreachScript string      `json:"outreach_script"`
	MessageDraft   string      `json:"message_draft"`
	TalkingPoints  []string    `json:"talking_points"`
	Objections     []Objection `json:"objections"`
}

type Objection struct {
	Objection string `json:"objection" validate:"required"`
	Response  string `json:"response" validate:"required,noplaceholder"`
}

type Project struct {
	bun.BaseModel `bun:"table:projects"`

	ID        string     `bun:"id,pk"`
	TenantID  string     `bun:"tenant_id"`
	AccountID string     `bun:"account_id"`
	Name      string     `bun:"name"`
	Status    string     `bun:"status"`
	Value     float64    `bun:"value"`
	DueDate   *time.Time `bun:"due_date"`
}

type Competitor struct {
	bun.BaseModel `bun:"table:competitors"`

	ID        string `bun:"id,pk"`
	TenantID  string `bun:"tenant_id"`
	AccountID string `bun:"account_id"`
	Name      string `bun:"name"`
	Category  string `bun:"category"`
	Notes     string `bun:"notes"`
}

// Learning is a tenant-wide observation. An empty Segment applies to every
// account.
type Learning struct {
	bun.BaseModel `bun:"table:learnings"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id"`
	Segment    string    `bun:"segment"`
	Category   string    `bun:"category"`
	Insight    string    `bun:"insight"`
	Confidence float64   `bun:"confidence"`
	CreatedAt  time.Time `bun:"created_at"`
}

type AccountEmbedding struct {
	bun.BaseModel `bun:"table:account_embeddings"`

	AccountID string    `bun:"account_id,pk"`
	TenantID  string    `bun:"tenant_id"`
	Model     string    `bun:"model"`
	Vector    []float64 `bun:"vector,type:text"`
	Profile   string    `bun:"profile"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// SimilarityPair is directional: only the A to B row is stored.
type SimilarityPair struct {
	bun.BaseModel `bun:"table:similarity_pairs"`

	ID                        string    `bun:"id,pk"`
	TenantID                  string    `bun:"tenant_id"`
	AccountAID                string    `bun:"account_a_id"`
	AccountBID                string    `bun:"account_b_id"`
	Score                     float64   `bun:"score"`
	SharedSegment             bool      `bun:"shared_segment"`
	SharedRegion              bool      `bun:"shared_region"`
	AccountBGraduated         bool      `bun:"account_b_graduated"`
	AccountBGraduationRevenue float64   `bun:"account_b_graduation_revenue"`
	ComputedAt                time.Time `bun:"computed_at"`
}

type AgentMemo struct {
	bun.BaseModel `bun:"table:agent_memos"`

	ID             string                `bun:"id,pk"`
	TenantID       string                `bun:"tenant_id"`
	RunType        string                `bun:"run_type"`
	LastRunAt      time.Time             `bun:"last_run_at"`
	LastRunSummary string                `bun:"last_run_summary"`
	CurrentFocus   string                `bun:"current_focus"`
	PatternNotes   string                `bun:"pattern_notes"`
	WatchItems     []contractx.WatchItem `bun:"watch_items,type:text"`
	UpdatedAt      time.Time             `bun:"updated_at"`
}

// Delivery statuses.
const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

type DeliveryEntry struct {
	bun.BaseModel `bun:"table:delivery_entries"`

	ID          string     `bun:"id,pk"`
	TenantID    string     `bun:"tenant_id"`
	EventType   string     `bun:"event_type"`
	AccountID   string     `bun:"account_id"`
	Payload     string     `bun:"payload"`
	Status      string     `bun:"status"`
	Attempts    int        `bun:"attempts"`
	LastError   string     `bun:"last_error"`
	CreatedAt   time.Time  `bun:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at"`
	DeliveredAt *time.Time `bun:"delivered_at"`
}

type Digest struct {
	bun.BaseModel `bun:"table:digests"`

	ID        string    `bun:"id,pk"`
	TenantID  string    `bun:"tenant_id"`
	RepEmail  string    `bun:"rep_email"`
	Headline  string    `bun:"headline"`
	Body      string    `bun:"body"`
	Payload   string    `bun:"payload"`
	CreatedAt time.Time `bun:"created_at"`
}

type QueryLog struct {
	bun.BaseModel `bun:"table:query_logs"`

	ID         string    `bun:"id,pk"`
	TenantID   string    `bun:"tenant_id"`
	Scope      string    `bun:"scope"`
	AccountID  string    `bun:"account_id"`
	OwnerEmail string    `bun:"owner_email"`
	Question   string    `bun:"question"`
	Answer     string    `bun:"answer"`
	// TokenCount counts streamed content deltas, which the gateway emits
	// one token at a time.
	TokenCount int       `bun:"token_count"`
	Partial    bool      `bun:"partial"`
	CreatedAt  time.Time `bun:"created_at"`
}

var models = []any{
	(*Tenant)(nil),
	(*Rep)(nil),
	(*Account)(nil),
	(*MetricsSnapshot)(nil),
	(*Contact)(nil),
	(*SpendGap)(nil),
	(*Interaction)(nil),
	(*Plan)(nil),
	(*Project)(nil),
	(*Competitor)(nil),
	(*Learning)(nil),
	(*AccountEmbedding)(nil),
	(*SimilarityPair)(nil),
	(*AgentMemo)(nil),
	(*DeliveryEntry)(nil),
	(*Digest)(nil),
	(*QueryLog)(nil),
}
