package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// PendingCursor marks the last entry of a page. The zero value starts at the
// oldest entry.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAfter positions the next page after entry.
func CursorAfter(entry DeliveryEntry) PendingCursor {
	return PendingCursor{CreatedAt: entry.CreatedAt, ID: entry.ID}
}

func (s *Store) InsertDelivery(ctx context.Context, entry *DeliveryEntry) error {
	now := s.now()
	entry.Status = DeliveryPending
	entry.Attempts = 0
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*DeliveryEntry, error) {
	entry := new(DeliveryEntry)
	if err := s.db.NewSelect().Model(entry).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "delivery %s", id)
	}
	return entry, nil
}

// ListPendingDeliveries returns one page of pending entries oldest first,
// starting after the cursor.
func (s *Store) ListPendingDeliveries(ctx context.Context, tenantID string, after PendingCursor, limit int) ([]DeliveryEntry, error) {
	var entries []DeliveryEntry
	q := s.db.NewSelect().Model(&entries).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", DeliveryPending).
		Order("created_at ASC", "id ASC")
	if after.ID != "" {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("created_at > ?", after.CreatedAt).
				WhereOr("created_at = ? AND id > ?", after.CreatedAt, after.ID)
		})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	return entries, nil
}

// MarkDeliverySent flips a pending entry to sent. It reports false when the
// entry was no longer pending.
func (s *Store) MarkDeliverySent(ctx context.Context, id string) (bool, error) {
	now := s.now()
	res, err := s.db.NewUpdate().Model((*DeliveryEntry)(nil)).
		Set("status = ?", DeliverySent).
		Set("last_error = ''").
		Set("delivered_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", DeliveryPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark delivery sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordDeliveryFailure increments attempts on a pending entry and fails it
// once attempts reach maxAttempts. It reports false when the entry was no
// longer pending.
func (s *Store) RecordDeliveryFailure(ctx context.Context, id, lastError string, maxAttempts int) (bool, error) {
	res, err := s.db.NewUpdate().Model((*DeliveryEntry)(nil)).
		Set("attempts = attempts + 1").
		Set("status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END", maxAttempts, DeliveryFailed, DeliveryPending).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("status = ?", DeliveryPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("record delivery failure: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CountDeliveries(ctx context.Context, tenantID, status string) (int, error) {
	n, err := s.db.NewSelect().Model((*DeliveryEntry)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", status).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return n, nil
}
