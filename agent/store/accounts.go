package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

func (s *Store) GetAccount(ctx context.Context, tenantID, accountID string) (*Account, error) {
	account := new(Account)
	err := s.db.NewSelect().Model(account).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "account %s", accountID)
	}
	return account, nil
}

func (s *Store) ListAccountsByIDs(ctx context.Context, tenantID string, ids []string) ([]Account, error) {
	var accounts []Account
	if len(ids) == 0 {
		return accounts, nil
	}
	err := s.db.NewSelect().Model(&accounts).
		Where("tenant_id = ?", tenantID).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts by id: %w", err)
	}
	return accounts, nil
}

// ListEnrolledAccounts returns enrolled accounts ordered by name. An empty
// ownerEmail lists the whole tenant; limit <= 0 means no limit.
func (s *Store) ListEnrolledAccounts(ctx context.Context, tenantID, ownerEmail string, limit int) ([]Account, error) {
	var accounts []Account
	q := s.db.NewSelect().Model(&accounts).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", contractx.StatusEnrolled).
		Order("name ASC", "id ASC")
	if ownerEmail != "" {
		q = q.Where("owner_email = ?", ownerEmail)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list enrolled accounts: %w", err)
	}
	return accounts, nil
}

// LatestMetrics returns the newest snapshot, or nil when the account has none.
func (s *Store) LatestMetrics(ctx context.Context, tenantID, accountID string) (*MetricsSnapshot, error) {
	var snaps []MetricsSnapshot
	err := s.db.NewSelect().Model(&snaps).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("captured_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func (s *Store) ListContacts(ctx context.Context, tenantID, accountID string) ([]Contact, error) {
	var contacts []Contact
	err := s.db.NewSelect().Model(&contacts).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("is_primary DESC", "name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

func (s *Store) ListSpendGaps(ctx context.Context, tenantID, accountID string, limit int) ([]SpendGap, error) {
	var gaps []SpendGap
	err := s.db.NewSelect().Model(&gaps).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("estimated_opportunity DESC", "category ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list spend gaps: %w", err)
	}
	return gaps, nil
}

// ListRecentInteractions returns up to limit interactions, newest first.
func (s *Store) ListRecentInteractions(ctx context.Context, tenantID, accountID string, limit int) ([]Interaction, error) {
	var items []Interaction
	err := s.db.NewSelect().Model(&items).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("occurred_at DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return items, nil
}

func (s *Store) ListOpenProjects(ctx context.Context, tenantID, accountID string) ([]Project, error) {
	var projects []Project
	err := s.db.NewSelect().Model(&projects).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Where("status NOT IN (?)", bun.In([]string{"completed", "cancelled"})).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (s *Store) ListCompetitors(ctx context.Context, tenantID, accountID string) ([]Competitor, error) {
	var competitors []Competitor
	err := s.db.NewSelect().Model(&competitors).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list competitors: %w", err)
	}
	return competitors, nil
}

// ListLearnings returns the highest-confidence learnings for a segment plus
// the tenant-wide ones.
func (s *Store) ListLearnings(ctx context.Context, tenantID, segment string, limit int) ([]Learning, error) {
	var learnings []Learning
	err := s.db.NewSelect().Model(&learnings).
		Where("tenant_id = ?", tenantID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("segment = ?", segment).WhereOr("segment = ''")
		}).
		Order("confidence DESC", "created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list learnings: %w", err)
	}
	return learnings, nil
}

func (s *Store) CreateInteraction(ctx context.Context, in *Interaction) error {
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}
	if _, err := s.db.NewInsert().Model(in).Exec(ctx); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// EnrollAccount moves a discovered account into the program.
func (s *Store) EnrollAccount(ctx context.Context, tenantID, accountID string) (*Account, error) {
	return s.transition(ctx, tenantID, accountID, contractx.StatusEnrolled, func(a *Account) error {
		switch a.Status {
		case contractx.StatusDiscovered, "":
		case contractx.StatusEnrolled:
			return fmt.Errorf("%w: account %s is already enrolled", contractx.ErrInvalidTransition, a.ID)
		default:
			return fmt.Errorf("%w: %s -> %s", contractx.ErrInvalidTransition, a.Status, contractx.StatusEnrolled)
		}
		now := s.now()
		a.EnrolledAt = &now
		return nil
	})
}

// GraduateAccount is terminal and only valid from enrolled.
func (s *Store) GraduateAccount(ctx context.Context, tenantID, accountID, reason string) (*Account, error) {
	return s.transition(ctx, tenantID, accountID, contractx.StatusGraduated, func(a *Account) error {
		if a.Status != contractx.StatusEnrolled {
			return fmt.Errorf("%w: %s -> %s", contractx.ErrInvalidTransition, a.Status, contractx.StatusGraduated)
		}
		now := s.now()
		a.GraduatedAt = &now
		a.GraduationReason = reason
		return nil
	})
}

func (s *Store) SetRiskLevel(ctx context.Context, tenantID, accountID, level string) error {
	res, err := s.db.NewUpdate().Model((*Account)(nil)).
		Set("risk_level = ?", level).
		Set("updated_at = ?", s.now()).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set risk level: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: account %s", contractx.ErrNotFound, accountID)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, tenantID, accountID, to string, check func(*Account) error) (*Account, error) {
	var out *Account
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account := new(Account)
		err := tx.NewSelect().Model(account).
			Where("tenant_id = ?", tenantID).
			Where("id = ?", accountID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return notFound(err, "account %s", accountID)
		}
		if err := check(account); err != nil {
			return err
		}
		from := account.Status
		account.Status = to
		account.UpdatedAt = s.now()

		res, err := tx.NewUpdate().Model(account).
			Column("status", "enrolled_at", "graduated_at", "graduation_reason", "updated_at").
			WherePK().
			Where("status = ?", from).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update account status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: account %s changed concurrently", contractx.ErrInvalidTransition, accountID)
		}
		out = account
		return nil
	})
	if err != nil {
		if errors.Is(err, contractx.ErrInvalidTransition) || errors.Is(err, contractx.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("transition account: %w", err)
	}
	return out, nil
}
