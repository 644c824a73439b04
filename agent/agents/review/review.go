// Package review runs the weekly pass over every enrolled account of a
// tenant: graduation, risk tagging and playbook rotation.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/growth-orchestrator/agent/accountctx"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/llm"
	"github.com/tanpawarit/growth-orchestrator/agent/prompt"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

const service = "weekly_review"

// GraduationThreshold is the minimum confidence at which a ready verdict
// graduates an account.
const GraduationThreshold = 0.75

const (
	EffectivenessEffective     = "effective"
	EffectivenessNeedsRotation = "needs_rotation"
	EffectivenessNoPlaybook    = "no_playbook"
)

type Output struct {
	GraduationReady       bool                   `json:"graduation_ready"`
	Confidence            float64                `json:"confidence" validate:"gte=0,lte=1"`
	GraduationReason      string                 `json:"graduation_reason" validate:"required_if=GraduationReady true"`
	RiskLevel             string                 `json:"risk_level" validate:"required,oneof=low medium high critical"`
	PlaybookEffectiveness string                 `json:"playbook_effectiveness" validate:"required,oneof=effective needs_rotation no_playbook"`
	Summary               string                 `json:"summary" validate:"required"`
	MemoryUpdate          contractx.MemoryUpdate `json:"memory_update"`
}

// ShouldGraduate applies the graduation rule to a verdict.
func ShouldGraduate(out Output) bool {
	return out.GraduationReady && out.Confidence >= GraduationThreshold
}

type Config struct {
	Concurrency int `split_words:"true" default:"4"`
}

type Assembler interface {
	Assemble(ctx context.Context, tenantID, accountID string) (*accountctx.Bundle, error)
}

type Repository interface {
	ListEnrolledAccounts(ctx context.Context, tenantID, ownerEmail string, limit int) ([]storex.Account, error)
	GraduateAccount(ctx context.Context, tenantID, accountID, reason string) (*storex.Account, error)
	RotateActivePlan(ctx context.Context, tenantID, accountID string) (int, error)
	SetRiskLevel(ctx context.Context, tenantID, accountID, level string) error
}

type Deps struct {
	Model     einomodel.BaseChatModel
	Assembler Assembler
	Repo      Repository
	Memory    contractx.MemoryStore
	Notifier  contractx.Notifier
	Sender    contractx.Sender
	Prompt    string
	Retry     retry.Policy
}

type Summary struct {
	Reviewed  int `json:"reviewed"`
	Graduated int `json:"graduated"`
	Rotated   int `json:"rotated"`
	AtRisk    int `json:"at_risk"`
	Failed    int `json:"failed"`
}

type Reviewer struct {
	deps   Deps
	cfg    Config
	caller *llm.StructuredCaller[Output]
}

func New(ctx context.Context, deps Deps, cfg Config) (*Reviewer, error) {
	if deps.Assembler == nil || deps.Repo == nil || deps.Memory == nil || deps.Notifier == nil || deps.Sender == nil {
		return nil, fmt.Errorf("%w: weekly reviewer dependencies are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(deps.Prompt) == "" {
		return nil, fmt.Errorf("%w: weekly_review", contractx.ErrPromptMissing)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	caller, err := llm.NewStructuredCaller[Output](ctx, deps.Model, contractx.RunTypeWeeklyReview, deps.Retry)
	if err != nil {
		return nil, err
	}
	return &Reviewer{deps: deps, cfg: cfg, caller: caller}, nil
}

type outcome struct {
	ok        bool
	graduated bool
	rotated   bool
	atRisk    bool
	update    contractx.MemoryUpdate
}

// Run reviews every enrolled account of the tenant. A failing account is
// logged and counted; it never aborts the batch. An account that graduated
// before a later step failed still counts as reviewed and graduated. The run
// memo is taken from the last reviewed account in list order.
func (r *Reviewer) Run(ctx context.Context, tenantID string) (Summary, error) {
	var sum Summary
	logger := log.With().Str("tenant_id", tenantID).Str("run_type", service).Logger()

	accounts, err := r.deps.Repo.ListEnrolledAccounts(ctx, tenantID, "", 0)
	if err != nil {
		metrics.DecisionRun(service, "failed")
		return sum, fmt.Errorf("list enrolled accounts: %w", err)
	}

	mem, err := r.deps.Memory.Read(ctx, tenantID, contractx.RunTypeWeeklyReview)
	if err != nil {
		logger.Warn().Err(err).Msg("memory unavailable")
	}

	outcomes := make([]outcome, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, acc := range accounts {
		g.Go(func() error {
			out, err := r.reviewAccount(gctx, tenantID, acc, mem)
			if err != nil {
				logger.Error().Err(err).Str("account_id", acc.ID).Bool("graduated", out.graduated).Msg("account review failed")
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var last *contractx.MemoryUpdate
	for i := range outcomes {
		o := outcomes[i]
		if !o.ok {
			sum.Failed++
			continue
		}
		sum.Reviewed++
		if o.graduated {
			sum.Graduated++
		}
		if o.rotated {
			sum.Rotated++
		}
		if o.atRisk {
			sum.AtRisk++
		}
		last = &outcomes[i].update
	}
	if last != nil {
		r.deps.Memory.WriteBestEffort(ctx, tenantID, contractx.RunTypeWeeklyReview, *last)
	}

	result := "ok"
	if sum.Failed > 0 {
		result = "partial"
	}
	metrics.DecisionRun(service, result)
	logger.Info().
		Int("reviewed", sum.Reviewed).
		Int("graduated", sum.Graduated).
		Int("rotated", sum.Rotated).
		Int("at_risk", sum.AtRisk).
		Int("failed", sum.Failed).
		Msg("weekly review finished")

	return sum, nil
}

func (r *Reviewer) reviewAccount(ctx context.Context, tenantID string, acc storex.Account, mem *contractx.Memory) (outcome, error) {
	bundle, err := r.deps.Assembler.Assemble(ctx, tenantID, acc.ID)
	if err != nil {
		return outcome{}, err
	}
	bundle.Memory = mem

	system := prompt.System(r.deps.Prompt, accountctx.ToPromptText(bundle))
	out, err := r.caller.Call(ctx, system, fmt.Sprintf("Review %s for this week.", acc.Name))
	if err != nil {
		return outcome{}, err
	}

	res := outcome{ok: true, update: out.MemoryUpdate}
	// Once graduation has committed and been announced the outcome stands,
	// even when a later step fails.
	fail := func(err error) (outcome, error) {
		if res.graduated {
			return res, err
		}
		return outcome{}, err
	}

	if ShouldGraduate(out) {
		graduated, err := r.deps.Repo.GraduateAccount(ctx, tenantID, acc.ID, out.GraduationReason)
		if err != nil {
			return outcome{}, fmt.Errorf("graduate: %w", err)
		}
		res.graduated = true
		r.announceGraduation(ctx, tenantID, graduated, out)
	}

	if out.PlaybookEffectiveness == EffectivenessNeedsRotation {
		n, err := r.deps.Repo.RotateActivePlan(ctx, tenantID, acc.ID)
		if err != nil {
			return fail(fmt.Errorf("rotate plan: %w", err))
		}
		res.rotated = n > 0
	}

	if out.RiskLevel != acc.RiskLevel {
		if err := r.deps.Repo.SetRiskLevel(ctx, tenantID, acc.ID, out.RiskLevel); err != nil {
			return fail(fmt.Errorf("set risk level: %w", err))
		}
	}
	if contractx.IsElevatedRisk(out.RiskLevel) {
		res.atRisk = true
		if _, err := r.deps.Notifier.Notify(ctx, tenantID, contractx.RiskFlagged{
			AccountID: acc.ID,
			RiskLevel: out.RiskLevel,
			Summary:   out.Summary,
		}); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Str("account_id", acc.ID).Msg("risk event not queued")
		}
	}

	return res, nil
}

// announceGraduation emits the graduation event and congratulates the owner.
// Both are best effort once the account row has changed.
func (r *Reviewer) announceGraduation(ctx context.Context, tenantID string, acc *storex.Account, out Output) {
	logger := log.With().Str("tenant_id", tenantID).Str("account_id", acc.ID).Logger()

	at := time.Now().UTC()
	if acc.GraduatedAt != nil {
		at = *acc.GraduatedAt
	}
	if _, err := r.deps.Notifier.Notify(ctx, tenantID, contractx.Graduated{
		AccountID:  acc.ID,
		Confidence: out.Confidence,
		Reason:     out.GraduationReason,
		At:         at,
	}); err != nil {
		logger.Warn().Err(err).Msg("graduation event not queued")
	}

	if acc.OwnerEmail == "" {
		return
	}
	msg := contractx.OutboundMessage{
		To:      acc.OwnerEmail,
		Subject: fmt.Sprintf("%s graduated from the growth program", acc.Name),
		Body: fmt.Sprintf("%s has graduated (confidence %.2f).\n\n%s\n\n%s",
			acc.Name, out.Confidence, out.GraduationReason, out.Summary),
	}
	if err := retry.Run(ctx, r.deps.Retry, func(ctx context.Context) error {
		return r.deps.Sender.Send(ctx, msg)
	}); err != nil {
		logger.Warn().Err(err).Msg("graduation message not sent")
	}
}
