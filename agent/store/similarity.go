package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// SaveEmbedding overwrites any prior vector for the account.
func (s *Store) SaveEmbedding(ctx context.Context, emb *AccountEmbedding) error {
	emb.UpdatedAt = s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*AccountEmbedding)(nil)).
			Where("account_id = ?", emb.AccountID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete embedding: %w", err)
		}
		if _, err := tx.NewInsert().Model(emb).Exec(ctx); err != nil {
			return fmt.Errorf("insert embedding: %w", err)
		}
		return nil
	})
}

func (s *Store) GetEmbedding(ctx context.Context, tenantID, accountID string) (*AccountEmbedding, error) {
	emb := new(AccountEmbedding)
	err := s.db.NewSelect().Model(emb).
		Where("tenant_id = ?", tenantID).
		Where("account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "embedding for account %s", accountID)
	}
	return emb, nil
}

func (s *Store) ListEmbeddings(ctx context.Context, tenantID string) ([]AccountEmbedding, error) {
	var embs []AccountEmbedding
	err := s.db.NewSelect().Model(&embs).
		Where("tenant_id = ?", tenantID).
		Order("account_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	return embs, nil
}

// ReplaceSimilarityPairs drops every stored pair for the source account and
// writes pairs in one transaction.
func (s *Store) ReplaceSimilarityPairs(ctx context.Context, tenantID, accountAID string, pairs []SimilarityPair) error {
	now := s.now()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*SimilarityPair)(nil)).
			Where("tenant_id = ?", tenantID).
			Where("account_a_id = ?", accountAID).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete similarity pairs: %w", err)
		}
		if len(pairs) == 0 {
			return nil
		}
		for i := range pairs {
			pairs[i].TenantID = tenantID
			pairs[i].AccountAID = accountAID
			pairs[i].ComputedAt = now
		}
		if _, err := tx.NewInsert().Model(&pairs).Exec(ctx); err != nil {
			return fmt.Errorf("insert similarity pairs: %w", err)
		}
		return nil
	})
}

// ListSimilarityPairs returns the stored pairs for a source account by
// descending score.
func (s *Store) ListSimilarityPairs(ctx context.Context, tenantID, accountAID string) ([]SimilarityPair, error) {
	var pairs []SimilarityPair
	err := s.db.NewSelect().Model(&pairs).
		Where("tenant_id = ?", tenantID).
		Where("account_a_id = ?", accountAID).
		Order("score DESC", "account_b_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list similarity pairs: %w", err)
	}
	return pairs, nil
}

// PeerMatch is a graduated peer joined with its account identity.
type PeerMatch struct {
	SimilarityPair
	Name    string
	Segment string
	Region  string
}

func (s *Store) ListGraduatedPeers(ctx context.Context, tenantID, accountAID string, limit int) ([]PeerMatch, error) {
	var pairs []SimilarityPair
	err := s.db.NewSelect().Model(&pairs).
		Where("tenant_id = ?", tenantID).
		Where("account_a_id = ?", accountAID).
		Where("account_b_graduated = ?", true).
		Order("score DESC", "account_b_id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list graduated peers: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.AccountBID)
	}
	accounts, err := s.ListAccountsByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	out := make([]PeerMatch, 0, len(pairs))
	for _, p := range pairs {
		a := byID[p.AccountBID]
		out = append(out, PeerMatch{SimilarityPair: p, Name: a.Name, Segment: a.Segment, Region: a.Region})
	}
	return out, nil
}
