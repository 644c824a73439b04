// Package digest composes the morning message for each active rep.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/growth-orchestrator/agent/accountctx"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	"github.com/tanpawarit/growth-orchestrator/agent/llm"
	"github.com/tanpawarit/growth-orchestrator/agent/memory"
	"github.com/tanpawarit/growth-orchestrator/agent/prompt"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
	"github.com/tanpawarit/growth-orchestrator/pkg/retry"
)

const service = "daily_digest"

type Priority struct {
	Rank    int    `json:"rank" validate:"gte=1,lte=10"`
	Account string `json:"account" validate:"required"`
	Action  string `json:"action" validate:"required,noplaceholder"`
	Reason  string `json:"reason"`
}

type AtRisk struct {
	Account string `json:"account" validate:"required"`
	Signal  string `json:"signal" validate:"required"`
}

type Output struct {
	HeadlineAction   string                 `json:"headline_action" validate:"required,noplaceholder"`
	Priorities       []Priority             `json:"priorities" validate:"max=5,dive"`
	AtRisk           []AtRisk               `json:"at_risk" validate:"max=3,dive"`
	PortfolioSummary string                 `json:"portfolio_summary" validate:"required"`
	MemoryUpdate     contractx.MemoryUpdate `json:"memory_update"`
}

type Config struct {
	AccountsPerRep int `split_words:"true" default:"10"`
	Concurrency    int `split_words:"true" default:"2"`
}

type Assembler interface {
	AssemblePortfolio(ctx context.Context, tenantID, ownerEmail string, limit int) ([]*accountctx.Bundle, error)
}

type Repository interface {
	ListActiveReps(ctx context.Context, tenantID string) ([]storex.Rep, error)
	CreateDigest(ctx context.Context, d *storex.Digest) error
}

type Deps struct {
	Model     einomodel.BaseChatModel
	Assembler Assembler
	Repo      Repository
	Memory    contractx.MemoryStore
	Sender    contractx.Sender
	Prompt    string
	Retry     retry.Policy
	Now       func() time.Time
}

type Summary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Composer struct {
	deps   Deps
	cfg    Config
	caller *llm.StructuredCaller[Output]
}

func New(ctx context.Context, deps Deps, cfg Config) (*Composer, error) {
	if deps.Assembler == nil || deps.Repo == nil || deps.Memory == nil || deps.Sender == nil {
		return nil, fmt.Errorf("%w: digest composer dependencies are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(deps.Prompt) == "" {
		return nil, fmt.Errorf("%w: daily_digest", contractx.ErrPromptMissing)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.AccountsPerRep <= 0 {
		cfg.AccountsPerRep = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	caller, err := llm.NewStructuredCaller[Output](ctx, deps.Model, contractx.RunTypeDailyDigest, deps.Retry)
	if err != nil {
		return nil, err
	}
	return &Composer{deps: deps, cfg: cfg, caller: caller}, nil
}

type repResult int

const (
	repFailed repResult = iota
	repSent
	repSkipped
)

// Run composes and sends one digest per active rep. Reps without enrolled
// accounts are skipped. The run memo comes from the last rep served in list
// order.
func (c *Composer) Run(ctx context.Context, tenantID string) (Summary, error) {
	var sum Summary
	logger := log.With().Str("tenant_id", tenantID).Str("run_type", service).Logger()

	reps, err := c.deps.Repo.ListActiveReps(ctx, tenantID)
	if err != nil {
		metrics.DecisionRun(service, "failed")
		return sum, fmt.Errorf("list reps: %w", err)
	}

	mem, err := c.deps.Memory.Read(ctx, tenantID, contractx.RunTypeDailyDigest)
	if err != nil {
		logger.Warn().Err(err).Msg("memory unavailable")
	}

	results := make([]repResult, len(reps))
	updates := make([]contractx.MemoryUpdate, len(reps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, rep := range reps {
		g.Go(func() error {
			res, update, err := c.composeForRep(gctx, tenantID, rep, mem)
			if err != nil {
				logger.Error().Err(err).Str("rep", rep.Email).Msg("digest failed")
			}
			results[i] = res
			updates[i] = update
			return nil
		})
	}
	_ = g.Wait()

	last := -1
	for i, res := range results {
		switch res {
		case repSent:
			sum.Sent++
			last = i
		case repSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}
	if last >= 0 {
		c.deps.Memory.WriteBestEffort(ctx, tenantID, contractx.RunTypeDailyDigest, updates[last])
	}

	result := "ok"
	if sum.Failed > 0 {
		result = "partial"
	}
	metrics.DecisionRun(service, result)
	logger.Info().
		Int("sent", sum.Sent).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Msg("daily digest finished")

	return sum, nil
}

func (c *Composer) composeForRep(ctx context.Context, tenantID string, rep storex.Rep, mem *contractx.Memory) (repResult, contractx.MemoryUpdate, error) {
	bundles, err := c.deps.Assembler.AssemblePortfolio(ctx, tenantID, rep.Email, c.cfg.AccountsPerRep)
	if err != nil {
		return repFailed, contractx.MemoryUpdate{}, err
	}
	if len(bundles) == 0 {
		return repSkipped, contractx.MemoryUpdate{}, nil
	}

	today := c.deps.Now().UTC().Format(time.DateOnly)
	system := prompt.System(c.deps.Prompt, memory.Preamble(mem), accountctx.RenderPortfolio(bundles))
	input := fmt.Sprintf("Write today's digest (%s) for %s, who owns the %d accounts above.", today, repName(rep), len(bundles))

	out, err := c.caller.Call(ctx, system, input)
	if err != nil {
		return repFailed, contractx.MemoryUpdate{}, err
	}

	msg := contractx.OutboundMessage{
		To:      rep.Email,
		Subject: fmt.Sprintf("Your growth digest for %s", today),
		Body:    Format(rep, out),
	}
	if err := retry.Run(ctx, c.deps.Retry, func(ctx context.Context) error {
		return c.deps.Sender.Send(ctx, msg)
	}); err != nil {
		return repFailed, contractx.MemoryUpdate{}, fmt.Errorf("send digest: %w", err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return repFailed, contractx.MemoryUpdate{}, fmt.Errorf("encode digest: %w", err)
	}
	if err := c.deps.Repo.CreateDigest(ctx, &storex.Digest{
		ID:       idgen.New(),
		TenantID: tenantID,
		RepEmail: rep.Email,
		Headline: out.HeadlineAction,
		Body:     msg.Body,
		Payload:  string(payload),
	}); err != nil {
		// The rep already has the message.
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("rep", rep.Email).Msg("digest not persisted")
	}

	return repSent, out.MemoryUpdate, nil
}

// Format renders a digest as the plain-text message body.
func Format(rep storex.Rep, out Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Good morning %s.\n\n", repName(rep))
	fmt.Fprintf(&b, "Today: %s\n", strings.TrimSpace(out.HeadlineAction))

	if len(out.Priorities) > 0 {
		b.WriteString("\nPriorities\n")
		for i, p := range out.Priorities {
			rank := p.Rank
			if rank <= 0 {
				rank = i + 1
			}
			fmt.Fprintf(&b, "%d. %s: %s", rank, p.Account, p.Action)
			if p.Reason != "" {
				fmt.Fprintf(&b, " (%s)", p.Reason)
			}
			b.WriteString("\n")
		}
	}

	if len(out.AtRisk) > 0 {
		b.WriteString("\nAt risk\n")
		for _, r := range out.AtRisk {
			fmt.Fprintf(&b, "- %s: %s\n", r.Account, r.Signal)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(out.PortfolioSummary))
	return b.String()
}

func repName(rep storex.Rep) string {
	if rep.Name != "" {
		return rep.Name
	}
	return rep.Email
}
