// Package query streams answers to free-form questions about one account or
// a rep's portfolio.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

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

const service = "query"

type Scope string

const (
	ScopeAccount   Scope = "account"
	ScopePortfolio Scope = "portfolio"
)

// Messages shown to the user in error chunks. Internal errors stay in logs.
const (
	msgInvalidRequest = "The question could not be processed."
	msgNoContext      = "Account data is unavailable right now."
	msgInterrupted    = "The answer was interrupted. Please try again."
)

type Config struct {
	PortfolioLimit int `split_words:"true" default:"10"`
}

type Assembler interface {
	Assemble(ctx context.Context, tenantID, accountID string) (*accountctx.Bundle, error)
	AssemblePortfolio(ctx context.Context, tenantID, ownerEmail string, limit int) ([]*accountctx.Bundle, error)
}

type Repository interface {
	CreateQueryLog(ctx context.Context, l *storex.QueryLog) error
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
	TenantID   string `json:"tenant_id"`
	Scope      Scope  `json:"scope"`
	AccountID  string `json:"account_id,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`
	Question   string `json:"question"`
}

func (r Request) validate() error {
	if strings.TrimSpace(r.TenantID) == "" || strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: tenant_id and question are required", contractx.ErrValidation)
	}
	switch r.Scope {
	case ScopeAccount:
		if strings.TrimSpace(r.AccountID) == "" {
			return fmt.Errorf("%w: account scope needs account_id", contractx.ErrValidation)
		}
	case ScopePortfolio:
	default:
		return fmt.Errorf("%w: unknown scope %q", contractx.ErrValidation, r.Scope)
	}
	return nil
}

type Streamer struct {
	deps   Deps
	cfg    Config
	caller *llm.StreamCaller
}

func New(deps Deps, cfg Config) (*Streamer, error) {
	if deps.Assembler == nil || deps.Repo == nil || deps.Memory == nil {
		return nil, fmt.Errorf("%w: query streamer dependencies are required", contractx.ErrValidation)
	}
	if strings.TrimSpace(deps.Prompt) == "" {
		return nil, fmt.Errorf("%w: query", contractx.ErrPromptMissing)
	}
	if cfg.PortfolioLimit <= 0 {
		cfg.PortfolioLimit = 10
	}
	caller, err := llm.NewStreamCaller(deps.Model, deps.Retry)
	if err != nil {
		return nil, err
	}
	return &Streamer{deps: deps, cfg: cfg, caller: caller}, nil
}

// Stream writes token chunks as they arrive and ends with exactly one done or
// error chunk. Once the stream has opened, the question and whatever answer
// was produced are logged, partial or not. A stream that never opened is not
// logged.
func (s *Streamer) Stream(ctx context.Context, req Request, w contractx.ChunkWriter) error {
	if err := req.validate(); err != nil {
		_ = w.WriteChunk(ctx, contractx.Chunk{Type: contractx.ChunkError, Content: msgInvalidRequest})
		return err
	}
	logger := log.With().
		Str("tenant_id", req.TenantID).
		Str("run_type", service).
		Str("scope", string(req.Scope)).
		Str("account_id", req.AccountID).
		Logger()

	contextText, err := s.context(ctx, req)
	if err != nil {
		logger.Warn().Err(err).Msg("query context unavailable")
		metrics.DecisionRun(service, "failed")
		_ = w.WriteChunk(ctx, contractx.Chunk{Type: contractx.ChunkError, Content: msgNoContext})
		return err
	}

	mem, err := s.deps.Memory.Read(ctx, req.TenantID, contractx.RunTypeQuery)
	if err != nil {
		logger.Warn().Err(err).Msg("memory unavailable")
	}
	system := prompt.System(s.deps.Prompt, memory.Preamble(mem), contextText)

	tokens := 0
	answer, streamErr := s.caller.Open(ctx, system, req.Question, func(tok string) error {
		tokens++
		return w.WriteChunk(ctx, contractx.Chunk{Type: contractx.ChunkToken, Content: tok})
	})

	// The client may already be gone; the log still has to land.
	logCtx := context.WithoutCancel(ctx)
	if !errors.Is(streamErr, llm.ErrStreamOpen) {
		if err := s.deps.Repo.CreateQueryLog(logCtx, &storex.QueryLog{
			ID:         idgen.New(),
			TenantID:   req.TenantID,
			Scope:      string(req.Scope),
			AccountID:  req.AccountID,
			OwnerEmail: req.OwnerEmail,
			Question:   req.Question,
			Answer:     answer,
			TokenCount: tokens,
			Partial:    streamErr != nil,
		}); err != nil {
			logger.Warn().Err(err).Msg("query log not written")
		}
	}

	if streamErr != nil {
		logger.Error().Err(streamErr).Int("tokens", tokens).Msg("query stream failed")
		metrics.DecisionRun(service, "failed")
		_ = w.WriteChunk(ctx, contractx.Chunk{Type: contractx.ChunkError, Content: msgInterrupted})
		return streamErr
	}

	if err := w.WriteChunk(ctx, contractx.Chunk{Type: contractx.ChunkDone}); err != nil {
		return err
	}
	metrics.DecisionRun(service, "ok")

	s.deps.Memory.WriteBestEffort(logCtx, req.TenantID, contractx.RunTypeQuery, contractx.MemoryUpdate{
		Summary: fmt.Sprintf("Answered a %s question: %s", req.Scope, truncate(req.Question, 160)),
	})
	return nil
}

func (s *Streamer) context(ctx context.Context, req Request) (string, error) {
	if req.Scope == ScopeAccount {
		bundle, err := s.deps.Assembler.Assemble(ctx, req.TenantID, req.AccountID)
		if err != nil {
			return "", err
		}
		return accountctx.ToPromptText(bundle), nil
	}

	bundles, err := s.deps.Assembler.AssemblePortfolio(ctx, req.TenantID, req.OwnerEmail, s.cfg.PortfolioLimit)
	if err != nil {
		return "", err
	}
	if len(bundles) == 0 {
		return "", errors.New("portfolio has no enrolled accounts")
	}
	return accountctx.RenderPortfolio(bundles), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
