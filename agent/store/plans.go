package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ActivePlan returns the newest active plan, or nil when there is none.
func (s *Store) ActivePlan(ctx context.Context, tenantID, accountID string) (*Plan, error) {
	var plans []Plan
	err := s.db.NewSelect().Model(&plans).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Where("status = ?", PlanActive).
		Order("created_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("active plan: %w", err)
	}
	if len(plans) == 0 {
		return nil, nil
	}
	return &plans[0], nil
}

func (s *Store) ListPlans(ctx context.Context, tenantID, accountID string) ([]Plan, error) {
	var plans []Plan
	err := s.db.NewSelect().Model(&plans).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// CreatePlan inserts plan as active. With rotatePrior set, every other active
// plan of the account is rotated in the same transaction.
func (s *Store) CreatePlan(ctx context.Context, plan *Plan, rotatePrior bool) (rotated int, err error) {
	now := s.now()
	plan.Status = PlanActive
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if rotatePrior {
			n, err := rotateActive(ctx, tx, plan.TenantID, plan.AccountID, now)
			if err != nil {
				return err
			}
			rotated = n
		}
		if _, err := tx.NewInsert().Model(plan).Exec(ctx); err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rotated, nil
}

// RotateActivePlan marks the account's active plans rotated and reports how
// many changed.
func (s *Store) RotateActivePlan(ctx context.Context, tenantID, accountID string) (int, error) {
	return rotateActive(ctx, s.db, tenantID, accountID, s.now())
}

func rotateActive(ctx context.Context, db bun.IDB, tenantID, accountID string, now time.Time) (int, error) {
	res, err := db.NewUpdate().Model((*Plan)(nil)).
		Set("status = ?", PlanRotated).
		Set("rotated_at = ?", now).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Where("status = ?", PlanActive).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rotate plans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rotate plans: %w", err)
	}
	return int(n), nil
}
