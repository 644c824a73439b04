// Package enrollment records program lifecycle changes and their outcomes
// and announces them through the delivery queue.
package enrollment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
)

type Repository interface {
	EnrollAccount(ctx context.Context, tenantID, accountID string) (*storex.Account, error)
	GetAccount(ctx context.Context, tenantID, accountID string) (*storex.Account, error)
	CreateInteraction(ctx context.Context, in *storex.Interaction) error
}

type Service struct {
	repo     Repository
	notifier contractx.Notifier
}

func NewService(repo Repository, notifier contractx.Notifier) *Service {
	return &Service{repo: repo, notifier: notifier}
}

// Enroll moves a discovered account into the program.
func (s *Service) Enroll(ctx context.Context, tenantID, accountID string) (*storex.Account, error) {
	acc, err := s.repo.EnrollAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, tenantID, contractx.EnrollmentChanged{
		AccountID: acc.ID,
		From:      contractx.StatusDiscovered,
		To:        contractx.StatusEnrolled,
	})
	log.Info().Str("tenant_id", tenantID).Str("account_id", acc.ID).Msg("account enrolled")
	return acc, nil
}

type Outcome struct {
	TenantID  string  `json:"tenant_id" validate:"required"`
	AccountID string  `json:"account_id" validate:"required"`
	Outcome   string  `json:"outcome" validate:"required,oneof=won lost stalled progressed"`
	Value     float64 `json:"value" validate:"gte=0"`
	Notes     string  `json:"notes"`
}

// RecordOutcome stores a sales outcome as an interaction on the account and
// emits an outcome event.
func (s *Service) RecordOutcome(ctx context.Context, in Outcome) error {
	if err := contractx.Validator().Struct(in); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	acc, err := s.repo.GetAccount(ctx, in.TenantID, in.AccountID)
	if err != nil {
		return err
	}

	summary := "Outcome: " + in.Outcome
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		summary += ". " + notes
	}
	if err := s.repo.CreateInteraction(ctx, &storex.Interaction{
		ID:        idgen.New(),
		TenantID:  in.TenantID,
		AccountID: acc.ID,
		Kind:      "outcome",
		Summary:   summary,
		Outcome:   in.Outcome,
	}); err != nil {
		return err
	}

	s.notify(ctx, in.TenantID, contractx.OutcomeRecorded{
		AccountID: acc.ID,
		Outcome:   in.Outcome,
		Value:     in.Value,
		Notes:     in.Notes,
	})
	return nil
}

func (s *Service) notify(ctx context.Context, tenantID string, event contractx.Event) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, tenantID, event); err != nil {
		log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("event_type", string(event.EventType())).
			Msg("event not queued")
	}
}
