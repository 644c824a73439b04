package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/growth-orchestrator/agent/accountctx"
	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/idgen"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
)

type Repository interface {
	GetAccount(ctx context.Context, tenantID, accountID string) (*storex.Account, error)
	ListAccountsByIDs(ctx context.Context, tenantID string, ids []string) ([]storex.Account, error)
	ListEnrolledAccounts(ctx context.Context, tenantID, ownerEmail string, limit int) ([]storex.Account, error)
	LatestMetrics(ctx context.Context, tenantID, accountID string) (*storex.MetricsSnapshot, error)
	SaveEmbedding(ctx context.Context, emb *storex.AccountEmbedding) error
	GetEmbedding(ctx context.Context, tenantID, accountID string) (*storex.AccountEmbedding, error)
	ListEmbeddings(ctx context.Context, tenantID string) ([]storex.AccountEmbedding, error)
	ReplaceSimilarityPairs(ctx context.Context, tenantID, accountAID string, pairs []storex.SimilarityPair) error
}

type Config struct {
	TopK int `split_words:"true" default:"5"`
}

// Index embeds account profiles and keeps the directional similarity pairs
// of each account. Search is brute force over the tenant's vectors.
type Index struct {
	repo     Repository
	embedder contractx.Embedder
	model    string
	topK     int
}

func NewIndex(repo Repository, embedder contractx.Embedder, model string, cfg Config) *Index {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Index{repo: repo, embedder: embedder, model: model, topK: topK}
}

type RefreshResult struct {
	Embedded int `json:"embedded"`
	Searched int `json:"searched"`
	Failed   int `json:"failed"`
}

// Profile is the short text embedded for an account.
func Profile(a storex.Account, m *storex.MetricsSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is a %s account in the %s region with program status %s.",
		a.Name, orUnknown(a.Segment), orUnknown(a.Region), orUnknown(a.Status))
	if m != nil {
		fmt.Fprintf(&b, " Trailing twelve month revenue %s, last three months %s, growth rate %.1f%%.",
			accountctx.Money(m.RevenueT12M), accountctx.Money(m.RevenueT3M), m.GrowthRate*100)
		fmt.Fprintf(&b, " Category penetration %.1f%%, opportunity score %.0f, %d days since last order.",
			m.CategoryPenetration*100, m.OpportunityScore, m.DaysSinceLastOrder)
	}
	return b.String()
}

// Embed computes and stores the account's vector, overwriting any prior one.
func (x *Index) Embed(ctx context.Context, tenantID, accountID string) ([]float64, error) {
	account, err := x.repo.GetAccount(ctx, tenantID, accountID)
	if err != nil {
		if errors.Is(err, contractx.ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant=%s account=%s", contractx.ErrAccountNotFound, tenantID, accountID)
		}
		return nil, err
	}

	snap, err := x.repo.LatestMetrics(ctx, tenantID, accountID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Str("account_id", accountID).Msg("embed without metrics")
		snap = nil
	}

	profile := Profile(*account, snap)
	vec, err := x.embedder.Embed(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("embed account %s: %w", accountID, err)
	}

	if err := x.repo.SaveEmbedding(ctx, &storex.AccountEmbedding{
		AccountID: accountID,
		TenantID:  tenantID,
		Model:     x.model,
		Vector:    vec,
		Profile:   profile,
	}); err != nil {
		return nil, err
	}
	return vec, nil
}

type scored struct {
	accountID string
	score     float64
}

// FindSimilar replaces the stored pairs of accountID with its topK nearest
// same-tenant accounts.
func (x *Index) FindSimilar(ctx context.Context, tenantID, accountID string, topK int) error {
	if topK <= 0 {
		topK = x.topK
	}

	target, err := x.repo.GetEmbedding(ctx, tenantID, accountID)
	if err != nil {
		return fmt.Errorf("load target vector: %w", err)
	}
	all, err := x.repo.ListEmbeddings(ctx, tenantID)
	if err != nil {
		return err
	}

	matches := make([]scored, 0, len(all))
	for _, e := range all {
		if e.AccountID == accountID {
			continue
		}
		matches = append(matches, scored{accountID: e.AccountID, score: Cosine(target.Vector, e.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].accountID < matches[j].accountID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}

	ids := make([]string, 0, len(matches)+1)
	ids = append(ids, accountID)
	for _, m := range matches {
		ids = append(ids, m.accountID)
	}
	accounts, err := x.repo.ListAccountsByIDs(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]storex.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	source := byID[accountID]

	pairs := make([]storex.SimilarityPair, 0, len(matches))
	for _, m := range matches {
		peer, ok := byID[m.accountID]
		if !ok {
			continue
		}
		pair := storex.SimilarityPair{
			ID:                idgen.New(),
			AccountBID:        m.accountID,
			Score:             m.score,
			SharedSegment:     source.Segment != "" && source.Segment == peer.Segment,
			SharedRegion:      source.Region != "" && source.Region == peer.Region,
			AccountBGraduated: peer.Status == contractx.StatusGraduated,
		}
		if pair.AccountBGraduated {
			snap, err := x.repo.LatestMetrics(ctx, tenantID, peer.ID)
			if err != nil {
				log.Warn().Err(err).Str("tenant_id", tenantID).Str("account_id", peer.ID).Msg("peer revenue unavailable")
			} else if snap != nil {
				pair.AccountBGraduationRevenue = snap.RevenueT12M
			}
		}
		pairs = append(pairs, pair)
	}

	return x.repo.ReplaceSimilarityPairs(ctx, tenantID, accountID, pairs)
}

// RefreshAll re-embeds every enrolled account, then re-searches each one
// that embedded cleanly. Per-account failures are logged and counted.
func (x *Index) RefreshAll(ctx context.Context, tenantID string) (RefreshResult, error) {
	var res RefreshResult

	accounts, err := x.repo.ListEnrolledAccounts(ctx, tenantID, "", 0)
	if err != nil {
		return res, fmt.Errorf("list enrolled accounts: %w", err)
	}

	embedded := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := x.Embed(ctx, tenantID, a.ID); err != nil {
			res.Failed++
			metrics.SimilarityRefresh(err)
			log.Error().Err(err).Str("tenant_id", tenantID).Str("account_id", a.ID).Msg("embed failed")
			continue
		}
		res.Embedded++
		embedded = append(embedded, a.ID)
	}

	for _, id := range embedded {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := x.FindSimilar(ctx, tenantID, id, x.topK)
		metrics.SimilarityRefresh(err)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("tenant_id", tenantID).Str("account_id", id).Msg("similarity search failed")
			continue
		}
		res.Searched++
	}

	log.Info().
		Str("tenant_id", tenantID).
		Int("embedded", res.Embedded).
		Int("searched", res.Searched).
		Int("failed", res.Failed).
		Msg("similarity refresh finished")
	return res, nil
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
