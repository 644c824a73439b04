package similarity

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/agent/store/storetest"
)

func TestCosineProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	randVec := func() []float64 {
		v := make([]float64, 16)
		for i := range v {
			v[i] = rng.Float64()*2 - 1
		}
		return v
	}

	for i := 0; i < 200; i++ {
		a, b := randVec(), randVec()
		if got := Cosine(a, a); math.Abs(got-1) > 1e-9 {
			t.Fatalf("Cosine(a, a) = %v, want 1", got)
		}
		ab, ba := Cosine(a, b), Cosine(b, a)
		if ab != ba {
			t.Fatalf("Cosine not symmetric: %v vs %v", ab, ba)
		}
		if ab < -1 || ab > 1 {
			t.Fatalf("Cosine out of range: %v", ab)
		}
		if got := Cosine(a, make([]float64, len(a))); got != 0 {
			t.Fatalf("Cosine(a, zero) = %v, want 0", got)
		}
	}

	if got := Cosine([]float64{1, 0}, []float64{-1, 0}); got != -1 {
		t.Fatalf("Cosine(opposite) = %v, want -1", got)
	}
	if got := Cosine([]float64{1, 2}, []float64{1, 2, 3}); got != 0 {
		t.Fatalf("Cosine(length mismatch) = %v, want 0", got)
	}
}

// fakeEmbedder maps the account name at the start of a profile to a vector.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	fail    map[string]bool
	calls   []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	for name, vec := range f.vectors {
		if strings.HasPrefix(text, name+" ") {
			if f.fail[name] {
				return nil, errors.New("embedding service 503")
			}
			return vec, nil
		}
	}
	return nil, errors.New("unknown profile")
}

func TestRefreshAllRanksGraduatedPeers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storetest.Open(t)
	storetest.Insert(t, st,
		storetest.Account("t1", "A", "Acme Supply", contractx.StatusEnrolled),
		storetest.Account("t1", "B", "Birch Plumbing", contractx.StatusGraduated),
		storetest.Account("t1", "C", "Cedar Mechanical", contractx.StatusGraduated),
		storetest.Metrics("t1", "A", 90000, 20000),
		storetest.Metrics("t1", "B", 200000, 55000),
		storetest.Metrics("t1", "C", 150000, 30000),
	)
	for id, vec := range map[string][]float64{
		"B": {0.9, 0.2, 0.1},
		"C": {0.1, 0.9, 0.3},
	} {
		if err := st.SaveEmbedding(ctx, &storex.AccountEmbedding{AccountID: id, TenantID: "t1", Vector: vec}); err != nil {
			t.Fatalf("SaveEmbedding() error = %v", err)
		}
	}

	emb := &fakeEmbedder{vectors: map[string][]float64{"Acme Supply": {1, 0.1, 0}}}
	idx := NewIndex(st, emb, "test-embedding", Config{TopK: 5})

	res, err := idx.RefreshAll(ctx, "t1")
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if res.Embedded != 1 || res.Searched != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(emb.calls[0], "$90,000") {
		t.Fatalf("profile missing revenue: %q", emb.calls[0])
	}

	pairs, err := st.ListSimilarityPairs(ctx, "t1", "A")
	if err != nil {
		t.Fatalf("ListSimilarityPairs() error = %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(pairs))
	}
	ab, ac := pairs[0], pairs[1]
	if ab.AccountBID != "B" || ac.AccountBID != "C" {
		t.Fatalf("pair order = %s, %s, want B then C", ab.AccountBID, ac.AccountBID)
	}
	if ab.Score <= ac.Score {
		t.Fatalf("score A->B %v should exceed A->C %v", ab.Score, ac.Score)
	}
	if !ab.AccountBGraduated || !ac.AccountBGraduated {
		t.Fatal("both pairs should carry the graduated flag")
	}
	if ab.AccountBGraduationRevenue != 200000 || ac.AccountBGraduationRevenue != 150000 {
		t.Fatalf("revenues = %v, %v", ab.AccountBGraduationRevenue, ac.AccountBGraduationRevenue)
	}
	want := Cosine([]float64{1, 0.1, 0}, []float64{0.9, 0.2, 0.1})
	if math.Abs(ab.Score-want) > 1e-9 {
		t.Fatalf("stored score %v != cosine %v", ab.Score, want)
	}
	if !ab.SharedSegment || !ab.SharedRegion {
		t.Fatal("expected shared segment and region")
	}
}

func TestFindSimilarReplacesPairsWholesale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storetest.Open(t)
	storetest.Insert(t, st,
		storetest.Account("t1", "A", "Acme Supply", contractx.StatusEnrolled),
		storetest.Account("t1", "B", "Birch Plumbing", contractx.StatusEnrolled),
		storetest.Account("t1", "C", "Cedar Mechanical", contractx.StatusEnrolled),
	)
	for id, vec := range map[string][]float64{
		"A": {1, 0},
		"B": {0.8, 0.2},
		"C": {0, 1},
	} {
		if err := st.SaveEmbedding(ctx, &storex.AccountEmbedding{AccountID: id, TenantID: "t1", Vector: vec}); err != nil {
			t.Fatalf("SaveEmbedding() error = %v", err)
		}
	}

	idx := NewIndex(st, &fakeEmbedder{}, "m", Config{})
	if err := idx.FindSimilar(ctx, "t1", "A", 5); err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}
	if err := idx.FindSimilar(ctx, "t1", "A", 1); err != nil {
		t.Fatalf("FindSimilar() error = %v", err)
	}

	pairs, err := st.ListSimilarityPairs(ctx, "t1", "A")
	if err != nil {
		t.Fatalf("ListSimilarityPairs() error = %v", err)
	}
	if len(pairs) != 1 || pairs[0].AccountBID != "B" {
		t.Fatalf("pairs = %+v, want only A->B", pairs)
	}
	if pairs[0].AccountBGraduated {
		t.Fatal("B is not graduated")
	}

	reverse, _ := st.ListSimilarityPairs(ctx, "t1", "B")
	if len(reverse) != 0 {
		t.Fatalf("reverse rows = %d, want 0", len(reverse))
	}
}

func TestRefreshAllSkipsFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := storetest.Open(t)
	storetest.Insert(t, st,
		storetest.Account("t1", "A", "Acme Supply", contractx.StatusEnrolled),
		storetest.Account("t1", "B", "Birch Plumbing", contractx.StatusEnrolled),
	)
	emb := &fakeEmbedder{
		vectors: map[string][]float64{"Acme Supply": {1, 0}, "Birch Plumbing": {0, 1}},
		fail:    map[string]bool{"Acme Supply": true},
	}

	res, err := NewIndex(st, emb, "m", Config{}).RefreshAll(ctx, "t1")
	if err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	if res.Embedded != 1 || res.Failed != 1 || res.Searched != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestEmbedUnknownAccount(t *testing.T) {
	t.Parallel()

	idx := NewIndex(storetest.Open(t), &fakeEmbedder{}, "m", Config{})
	if _, err := idx.Embed(context.Background(), "t1", "missing"); !errors.Is(err, contractx.ErrAccountNotFound) {
		t.Fatalf("Embed() error = %v, want ErrAccountNotFound", err)
	}
}
