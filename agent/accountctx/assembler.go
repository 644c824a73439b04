// Package accountctx assembles the per-account snapshot every decision
// service grounds its reasoning call on.
package accountctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
)

const (
	MaxSpendGaps    = 20
	MaxInteractions = 10
	MaxPeers        = 3
	MaxLearnings    = 5

	portfolioConcurrency = 4
)

type Source interface {
	GetAccount(ctx context.Context, tenantID, accountID string) (*storex.Account, error)
	ListEnrolledAccounts(ctx context.Context, tenantID, ownerEmail string, limit int) ([]storex.Account, error)
	LatestMetrics(ctx context.Context, tenantID, accountID string) (*storex.MetricsSnapshot, error)
	ListContacts(ctx context.Context, tenantID, accountID string) ([]storex.Contact, error)
	ListSpendGaps(ctx context.Context, tenantID, accountID string, limit int) ([]storex.SpendGap, error)
	ListRecentInteractions(ctx context.Context, tenantID, accountID string, limit int) ([]storex.Interaction, error)
	ActivePlan(ctx context.Context, tenantID, accountID string) (*storex.Plan, error)
	ListOpenProjects(ctx context.Context, tenantID, accountID string) ([]storex.Project, error)
	ListCompetitors(ctx context.Context, tenantID, accountID string) ([]storex.Competitor, error)
	ListGraduatedPeers(ctx context.Context, tenantID, accountID string, limit int) ([]storex.PeerMatch, error)
	ListLearnings(ctx context.Context, tenantID, segment string, limit int) ([]storex.Learning, error)
}

// Bundle is the assembled snapshot of one account. Every section except
// Account may be empty.
type Bundle struct {
	Account      storex.Account
	Metrics      *storex.MetricsSnapshot
	Contacts     []storex.Contact
	SpendGaps    []storex.SpendGap
	Interactions []storex.Interaction
	ActivePlan   *storex.Plan
	Projects     []storex.Project
	Competitors  []storex.Competitor
	Peers        []storex.PeerMatch
	Learnings    []storex.Learning

	// Memory is attached by the caller and rendered last.
	Memory *contractx.Memory
}

type Assembler struct {
	src Source
}

func NewAssembler(src Source) *Assembler {
	return &Assembler{src: src}
}

// Assemble fails only when the account itself cannot be loaded. Every other
// sub-read runs concurrently and degrades to an empty section on error.
func (a *Assembler) Assemble(ctx context.Context, tenantID, accountID string) (*Bundle, error) {
	account, err := a.src.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		if errors.Is(err, contractx.ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant=%s account=%s", contractx.ErrAccountNotFound, tenantID, accountID)
		}
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}

	b := &Bundle{Account: *account}
	logger := log.With().Str("tenant_id", tenantID).Str("account_id", accountID).Logger()
	degrade := func(section string, err error) error {
		if err != nil {
			logger.Warn().Err(err).Str("section", section).Msg("context section unavailable")
		}
		return nil
	}

	var g errgroup.Group
	g.Go(func() error {
		m, err := a.src.LatestMetrics(ctx, tenantID, accountID)
		if err == nil {
			b.Metrics = m
		}
		return degrade("metrics", err)
	})
	g.Go(func() error {
		v, err := a.src.ListContacts(ctx, tenantID, accountID)
		if err == nil {
			b.Contacts = v
		}
		return degrade("contacts", err)
	})
	g.Go(func() error {
		v, err := a.src.ListSpendGaps(ctx, tenantID, accountID, MaxSpendGaps)
		if err == nil {
			b.SpendGaps = v
		}
		return degrade("spend_gaps", err)
	})
	g.Go(func() error {
		v, err := a.src.ListRecentInteractions(ctx, tenantID, accountID, MaxInteractions)
		if err == nil {
			b.Interactions = v
		}
		return degrade("interactions", err)
	})
	g.Go(func() error {
		v, err := a.src.ActivePlan(ctx, tenantID, accountID)
		if err == nil {
			b.ActivePlan = v
		}
		return degrade("active_plan", err)
	})
	g.Go(func() error {
		v, err := a.src.ListOpenProjects(ctx, tenantID, accountID)
		if err == nil {
			b.Projects = v
		}
		return degrade("projects", err)
	})
	g.Go(func() error {
		v, err := a.src.ListCompetitors(ctx, tenantID, accountID)
		if err == nil {
			b.Competitors = v
		}
		return degrade("competitors", err)
	})
	g.Go(func() error {
		v, err := a.src.ListGraduatedPeers(ctx, tenantID, accountID, MaxPeers)
		if err == nil {
			b.Peers = v
		}
		return degrade("peers", err)
	})
	g.Go(func() error {
		v, err := a.src.ListLearnings(ctx, tenantID, account.Segment, MaxLearnings)
		if err == nil {
			b.Learnings = v
		}
		return degrade("learnings", err)
	})
	_ = g.Wait()

	return b, nil
}

// AssemblePortfolio assembles up to limit enrolled accounts, optionally for a
// single owner, in list order. Accounts that fail to assemble are skipped.
func (a *Assembler) AssemblePortfolio(ctx context.Context, tenantID, ownerEmail string, limit int) ([]*Bundle, error) {
	accounts, err := a.src.ListEnrolledAccounts(ctx, tenantID, ownerEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("list portfolio: %w", err)
	}

	bundles := make([]*Bundle, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(portfolioConcurrency)
	for i, acc := range accounts {
		g.Go(func() error {
			b, err := a.Assemble(gctx, tenantID, acc.ID)
			if err != nil {
				log.Warn().Err(err).
					Str("tenant_id", tenantID).
					Str("account_id", acc.ID).
					Msg("skip account in portfolio")
				return nil
			}
			bundles[i] = b
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Bundle, 0, len(bundles))
	for _, b := range bundles {
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}
