package playbook

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/growth-orchestrator/agent/accountctx"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/llm"
	"github.com/tanpawarit/growth-orchestrator/agent/prompt"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

const service = "playbook"

var Categories = []string{"cross_sell", "win_back", "expansion", "retention", "new_category"}

type Output struct {
	PlaybookType      string                 `json:"playbook_type" validate:"required,oneof=cross_sell win_back expansion retention new_category"`
	Urgency           string                 `json:"urgency" validate:"required,oneof=low medium high"`
	HeadlineAction    string                 `json:"headline_action" validate:"required"`
	OutreachScript    string                 `json:"outreach_script" validate:"required,min=40,noplaceholder"`
	MessageDraft      string                 `json:"message_draft" validate:"required,min=40,noplaceholder"`
	TalkingPoints     []string               `json:"talking_points" validate:"max=5,dive,required"`
	ObjectionHandling []storex.Objection     `json:"objection_handling" validate:"max=3,dive"`
	MemoryUpdate      contractx.MemoryUpdate `json:"memory_update"`
}

type Config struct {
	// KeepPriorActive leaves earlier active plans untouched, so an account
	// can hold several active plans at once.
	KeepPriorActive bool `split_words:"true" default:"false"`
}

type Assembler interface {
	Assemble(ctx context.Context, tenantID, accountID string) (*accountctx.Bundle, error)
}

type Repository interface {
	CreatePlan(ctx context.Context, plan *storex.Plan, rotatePrior bool) (int, error)
}

type Deps struct {
	Model     einomodel.BaseChatModel
	Assembler Assembler
	Repo      Repository
	Memory    contractx.MemoryStore
	Prompt    string
	Retry     retry.Policy
}

type Request struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	Category  string `json:"category,omitempty"`
}

type Result struct {
	Plan    *storex.Plan `json:"plan"`
	Rotated int          `json:"rotated"`
}

type Generator struct {
	deps   Deps
	cfg    Config
	caller *llm.StructuredCaller[Output]
}

func New(ctx context.Context, deps Deps, cfg Config) (*Generator, error) {
	if deps.Assembler == nil || deps.Repo == nil || deps.Memory == nil {
		return nil, fmt.Errorf("%w: playbook generator dependencies are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(deps.Prompt) == "" {
		return nil, fmt.Errorf("%w: playbook", contractx.ErrPromptMissing)
	}
	caller, err := llm.NewStructuredCaller[Output](ctx, deps.Model, contractx.RunTypePlaybook, deps.Retry)
	if err != nil {
		return nil, err
	}
	return &Generator{deps: deps, cfg: cfg, caller: caller}, nil
}

// Generate writes one new active plan for the account. Unless
// KeepPriorActive is set, prior active plans are rotated in the same
// transaction.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := log.With().Str("tenant_id", req.TenantID).Str("account_id", req.AccountID).Str("run_type", service).Logger()

	bundle, err := g.deps.Assembler.Assemble(ctx, req.TenantID, req.AccountID)
	if err != nil {
		metrics.DecisionRun(service, "failed")
		return nil, err
	}

	mem, err := g.deps.Memory.Read(ctx, req.TenantID, contractx.RunTypePlaybook)
	if err != nil {
		logger.Warn().Err(err).Msg("memory unavailable")
	}
	bundle.Memory = mem

	system := prompt.System(g.deps.Prompt, accountctx.ToPromptText(bundle))
	out, err := g.caller.Call(ctx, system, buildInput(bundle, req.Category))
	if err != nil {
		metrics.DecisionRun(service, "failed")
		return nil, err
	}
	if req.Category != "" && out.PlaybookType != req.Category {
		metrics.DecisionRun(service, "failed")
		return nil, fmt.Errorf("%w: playbook_type=%q, requested %q", contractx.ErrSchemaViolation, out.PlaybookType, req.Category)
	}

	plan := &storex.Plan{
		ID:             idgen.New(),
		TenantID:       req.TenantID,
		AccountID:      req.AccountID,
		PlaybookType:   out.PlaybookType,
		Urgency:        out.Urgency,
		HeadlineAction: strings.TrimSpace(out.HeadlineAction),
		Content: storex.PlanContent{
			OutreachScript: strings.TrimSpace(out.OutreachScript),
			MessageDraft:   strings.TrimSpace(out.MessageDraft),
			TalkingPoints:  out.TalkingPoints,
			Objections:     out.ObjectionHandling,
		},
	}
	rotated, err := g.deps.Repo.CreatePlan(ctx, plan, !g.cfg.KeepPriorActive)
	if err != nil {
		metrics.DecisionRun(service, "failed")
		return nil, fmt.Errorf("save plan: %w", err)
	}

	g.deps.Memory.WriteBestEffort(ctx, req.TenantID, contractx.RunTypePlaybook, out.MemoryUpdate)
	metrics.DecisionRun(service, "ok")
	logger.Info().
		Str("plan_id", plan.ID).
		Str("playbook_type", plan.PlaybookType).
		Int("rotated", rotated).
		Msg("playbook generated")

	return &Result{Plan: plan, Rotated: rotated}, nil
}

func (r Request) validate() error {
	if strings.TrimSpace(r.TenantID) == "" || strings.TrimSpace(r.AccountID) == "" {
		return fmt.Errorf("%w: tenant_id and account_id are required", contractx.ErrValidation)
	}
	if r.Category == "" {
		return nil
	}
	for _, c := range Categories {
		if c == r.Category {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown playbook category %q", contractx.ErrValidation, r.Category)
}

func buildInput(b *accountctx.Bundle, category string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the next playbook for %s.", b.Account.Name)
	if category != "" {
		fmt.Fprintf(&sb, " The requested playbook_type is %q; use exactly that value.", category)
	}
	return sb.String()
}
