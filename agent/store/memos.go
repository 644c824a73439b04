package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
)

// GetMemo returns the memo for (tenant, run type), or nil when none exists.
func (s *Store) GetMemo(ctx context.Context, tenantID, runType string) (*AgentMemo, error) {
	var memos []AgentMemo
	err := s.db.NewSelect().Model(&memos).
		Where("tenant_id = ?", tenantID).
		Where("run_type = ?", runType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get memo: %w", err)
	}
	if len(memos) == 0 {
		return nil, nil
	}
	return &memos[0], nil
}

// SaveMemo reads the current memo, lets apply mutate it and writes it back in
// one transaction. apply receives a fresh record with exists=false on first
// write.
func (s *Store) SaveMemo(ctx context.Context, tenantID, runType string, apply func(memo *AgentMemo, exists bool)) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var memos []AgentMemo
		err := tx.NewSelect().Model(&memos).
			Where("tenant_id = ?", tenantID).
			Where("run_type = ?", runType).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("load memo: %w", err)
		}

		if len(memos) == 0 {
			memo := &AgentMemo{ID: idgen.New(), TenantID: tenantID, RunType: runType}
			apply(memo, false)
			memo.UpdatedAt = s.now()
			if _, err := tx.NewInsert().Model(memo).Exec(ctx); err != nil {
				return fmt.Errorf("insert memo: %w", err)
			}
			return nil
		}

		memo := &memos[0]
		apply(memo, true)
		memo.UpdatedAt = s.now()
		if _, err := tx.NewUpdate().Model(memo).
			Column("last_run_at", "last_run_summary", "current_focus", "pattern_notes", "watch_items", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("update memo: %w", err)
		}
		return nil
	})
}
