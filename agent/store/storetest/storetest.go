// Package storetest opens migrated SQLite-backed stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	databasex "github.com/tanpawarit/growth-orchestrator/pkg/database"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
)

// Open returns a migrated store on a fresh file under t.TempDir().
func Open(t *testing.T, opts ...storex.Option) *storex.Store {
	t.Helper()

	db, err := databasex.OpenSQLite(filepath.Join(t.TempDir(), "growth.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	st := storex.New(db, opts...)
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return st
}

// Insert writes rows or fails the test.
func Insert(t *testing.T, st *storex.Store, rows ...any) {
	t.Helper()
	if err := st.Insert(context.Background(), rows...); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
}

// Account builds an account row with sensible defaults.
func Account(tenantID, id, name, status string) *storex.Account {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	a := &storex.Account{
		ID:         id,
		TenantID:   tenantID,
		Name:       name,
		Segment:    "plumbing",
		Region:     "midwest",
		OwnerEmail: "rep@example.com",
		Status:     status,
		RiskLevel:  contractx.RiskLow,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if status == contractx.StatusEnrolled || status == contractx.StatusGraduated {
		a.EnrolledAt = &now
	}
	if status == contractx.StatusGraduated {
		a.GraduatedAt = &now
	}
	return a
}

// Metrics builds a snapshot with the given revenue figures.
func Metrics(tenantID, accountID string, revenueT12M, revenueT3M float64) *storex.MetricsSnapshot {
	return &storex.MetricsSnapshot{
		ID:                  idgen.New(),
		TenantID:            tenantID,
		AccountID:           accountID,
		RevenueT12M:         revenueT12M,
		RevenueT3M:          revenueT3M,
		GrowthRate:          0.08,
		CategoryPenetration: 0.4,
		OpportunityScore:    72,
		DaysSinceLastOrder:  12,
		CapturedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}
