package store

import (
	"context"
	"fmt"
)

func (s *Store) CreateDigest(ctx context.Context, d *Digest) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	if _, err := s.db.NewInsert().Model(d).Exec(ctx); err != nil {
		return fmt.Errorf("insert digest: %w", err)
	}
	return nil
}

func (s *Store) ListDigests(ctx context.Context, tenantID string) ([]Digest, error) {
	var digests []Digest
	err := s.db.NewSelect().Model(&digests).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC", "rep_email ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	return digests, nil
}

func (s *Store) CreateQueryLog(ctx context.Context, l *QueryLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	if _, err := s.db.NewInsert().Model(l).Exec(ctx); err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

func (s *Store) ListQueryLogs(ctx context.Context, tenantID string) ([]QueryLog, error) {
	var logs []QueryLog
	err := s.db.NewSelect().Model(&logs).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}
	return logs, nil
}
