package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	databasex "github.com/tanpawarit/growth-orchestrator/pkg/database"
)

// Store is the keyed record store every orchestration component reads from
// and writes to.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes the orchestration layer uses.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []databasex.Index{
		{Model: (*Account)(nil), Name: "idx_accounts_tenant_status", Columns: []string{"tenant_id", "status"}},
		{Model: (*MetricsSnapshot)(nil), Name: "idx_metrics_account", Columns: []string{"tenant_id", "account_id", "captured_at"}},
		{Model: (*Interaction)(nil), Name: "idx_interactions_account", Columns: []string{"tenant_id", "account_id", "occurred_at"}},
		{Model: (*Plan)(nil), Name: "idx_plans_account_status", Columns: []string{"tenant_id", "account_id", "status"}},
		{Model: (*SimilarityPair)(nil), Name: "idx_similarity_source", Columns: []string{"tenant_id", "account_a_id"}},
		{Model: (*AgentMemo)(nil), Name: "idx_agent_memos_key", Columns: []string{"tenant_id", "run_type"}, Unique: true},
		{Model: (*DeliveryEntry)(nil), Name: "idx_delivery_tenant_status", Columns: []string{"tenant_id", "status"}},
		{Model: (*Rep)(nil), Name: "idx_reps_tenant_email", Columns: []string{"tenant_id", "email"}, Unique: true},
	}
	return databasex.Migrate(ctx, s.db, models, indexes)
}

// Insert writes new rows as-is. Callers set ids and timestamps.
func (s *Store) Insert(ctx context.Context, rows ...any) error {
	for _, row := range rows {
		if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
			return fmt.Errorf("insert %T: %w", row, err)
		}
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	tenant := new(Tenant)
	err := s.db.NewSelect().Model(tenant).Where("id = ?", tenantID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "tenant %s", tenantID)
	}
	return tenant, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	if err := s.db.NewSelect().Model(&tenants).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Store) ListActiveReps(ctx context.Context, tenantID string) ([]Rep, error) {
	var reps []Rep
	err := s.db.NewSelect().Model(&reps).
		Where("tenant_id = ?", tenantID).
		Where("active = ?", true).
		Order("email ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reps: %w", err)
	}
	return reps, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", contractx.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
