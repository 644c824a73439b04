package accountctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/agent/store/storetest"
)

func TestAssembleEmptySectionsDoNotFail(t *testing.T) {
	t.Parallel()

	st := storetest.Open(t)
	storetest.Insert(t, st, storetest.Account("t1", "a1", "Acme Supply", contractx.StatusEnrolled))

	b, err := NewAssembler(st).Assemble(context.Background(), "t1", "a1")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if b.Account.Name != "Acme Supply" {
		t.Fatalf("account = %+v", b.Account)
	}
	if len(b.Interactions) != 0 || len(b.SpendGaps) != 0 || b.ActivePlan != nil {
		t.Fatalf("expected empty sections, got interactions=%d gaps=%d plan=%v", len(b.Interactions), len(b.SpendGaps), b.ActivePlan)
	}
	if b.Metrics != nil || len(b.Peers) != 0 || len(b.Learnings) != 0 {
		t.Fatalf("expected empty metrics, peers and learnings")
	}

	text := ToPromptText(b)
	if !strings.Contains(text, "## Spend gaps\nNone on file.") {
		t.Fatalf("render missing empty spend gap section:\n%s", text)
	}
}

func TestAssembleAccountNotFound(t *testing.T) {
	t.Parallel()

	st := storetest.Open(t)
	storetest.Insert(t, st, storetest.Account("t2", "a1", "Other Tenant", contractx.StatusEnrolled))

	_, err := NewAssembler(st).Assemble(context.Background(), "t1", "a1")
	if !errors.Is(err, contractx.ErrAccountNotFound) {
		t.Fatalf("Assemble() error = %v, want ErrAccountNotFound", err)
	}
}

type flakySource struct {
	*storex.Store
}

func (flakySource) ListContacts(context.Context, string, string) ([]storex.Contact, error) {
	return nil, errors.New("contacts table locked")
}

func (flakySource) ListRecentInteractions(context.Context, string, string, int) ([]storex.Interaction, error) {
	return nil, errors.New("timeout")
}

func TestAssembleSubReadFailureYieldsEmptySection(t *testing.T) {
	t.Parallel()

	st := storetest.Open(t)
	storetest.Insert(t, st,
		storetest.Account("t1", "a1", "Acme Supply", contractx.StatusEnrolled),
		storetest.Metrics("t1", "a1", 150000, 40000),
	)

	b, err := NewAssembler(flakySource{st}).Assemble(context.Background(), "t1", "a1")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if b.Contacts != nil || b.Interactions != nil {
		t.Fatalf("failed sections should be empty")
	}
	if b.Metrics == nil || b.Metrics.RevenueT12M != 150000 {
		t.Fatalf("metrics = %+v, want loaded", b.Metrics)
	}
}

func seedFullAccount(t *testing.T, st *storex.Store) {
	t.Helper()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := []any{
		storetest.Account("t1", "a1", "Acme Supply", contractx.StatusEnrolled),
		storetest.Account("t1", "peer", "Birch Plumbing", contractx.StatusGraduated),
		storetest.Metrics("t1", "a1", 150000, 40000),
		&storex.Contact{ID: "c1", TenantID: "t1", AccountID: "a1", Name: "Dana Reyes", Role: "Purchasing", IsPrimary: true},
		&storex.Plan{ID: "p1", TenantID: "t1", AccountID: "a1", Status: storex.PlanActive, PlaybookType: "cross_sell", Urgency: "high", HeadlineAction: "Call Dana", CreatedAt: base},
		&storex.Project{ID: "pr1", TenantID: "t1", AccountID: "a1", Name: "Hospital retrofit", Status: "open", Value: 50000},
		&storex.Competitor{ID: "co1", TenantID: "t1", AccountID: "a1", Name: "FastPipe", Category: "fittings"},
		&storex.SimilarityPair{ID: "sp1", TenantID: "t1", AccountAID: "a1", AccountBID: "peer", Score: 0.91, AccountBGraduated: true, AccountBGraduationRevenue: 200000, SharedSegment: true, ComputedAt: base},
		&storex.Learning{ID: "l1", TenantID: "t1", Segment: "plumbing", Insight: "Bundle fittings with heaters", Confidence: 0.8, CreatedAt: base},
	}
	for i := 0; i < 10; i++ {
		rows = append(rows, &storex.SpendGap{
			ID:                   fmt.Sprintf("g%02d", i),
			TenantID:             "t1",
			AccountID:            "a1",
			Category:             fmt.Sprintf("Category %02d", i),
			EstimatedOpportunity: float64(1000 * (i + 1)),
		})
	}
	for i := 0; i < 12; i++ {
		rows = append(rows, &storex.Interaction{
			ID:         fmt.Sprintf("i%02d", i),
			TenantID:   "t1",
			AccountID:  "a1",
			Kind:       "call",
			Summary:    fmt.Sprintf("touch %02d", i),
			OccurredAt: base.AddDate(0, 0, i),
		})
	}
	storetest.Insert(t, st, rows...)
}

func TestToPromptTextOrderAndCaps(t *testing.T) {
	t.Parallel()

	st := storetest.Open(t)
	seedFullAccount(t, st)

	b, err := NewAssembler(st).Assemble(context.Background(), "t1", "a1")
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(b.SpendGaps) != 10 || len(b.Interactions) != MaxInteractions {
		t.Fatalf("gaps=%d interactions=%d", len(b.SpendGaps), len(b.Interactions))
	}
	b.Memory = &contractx.Memory{LastRunSummary: "last week we pushed heaters"}

	text := ToPromptText(b)
	order := []string{
		"# Account: Acme Supply",
		"## Financials",
		"## Contacts",
		"## Spend gaps",
		"## Recent interactions",
		"## Active playbook",
		"## Open projects",
		"## Competitors",
		"## Similar graduated peers",
		"## Applicable learnings",
		"## Prior memory",
	}
	last := -1
	for _, heading := range order {
		idx := strings.Index(text, heading)
		if idx < 0 {
			t.Fatalf("render missing %q:\n%s", heading, text)
		}
		if idx <= last {
			t.Fatalf("%q rendered out of order:\n%s", heading, text)
		}
		last = idx
	}

	if !strings.Contains(text, "- Category 09: opportunity $10,000") {
		t.Fatalf("largest gap missing:\n%s", text)
	}
	if strings.Contains(text, "Category 01:") || strings.Contains(text, "Category 00:") {
		t.Fatalf("gaps beyond top 8 rendered:\n%s", text)
	}
	if strings.Index(text, "Category 09") > strings.Index(text, "Category 08") {
		t.Fatal("gaps not sorted by opportunity")
	}

	if !strings.Contains(text, "touch 11") || !strings.Contains(text, "touch 07") || strings.Contains(text, "touch 06") {
		t.Fatalf("expected the five newest interactions:\n%s", text)
	}
	if strings.Index(text, "touch 11") > strings.Index(text, "touch 07") {
		t.Fatal("interactions not newest first")
	}
	if !strings.Contains(text, "Birch Plumbing: similarity 0.91, graduated at $200,000 T12M, same segment") {
		t.Fatalf("peer line missing:\n%s", text)
	}

	if again := ToPromptText(b); again != text {
		t.Fatal("render is not deterministic")
	}
}

func TestAssemblePortfolioKeepsListOrder(t *testing.T) {
	t.Parallel()

	st := storetest.Open(t)
	c := storetest.Account("t1", "c", "Cedar Mechanical", contractx.StatusEnrolled)
	a := storetest.Account("t1", "a", "Acme Supply", contractx.StatusEnrolled)
	b := storetest.Account("t1", "b", "Birch Plumbing", contractx.StatusEnrolled)
	b.OwnerEmail = "other@example.com"
	d := storetest.Account("t1", "d", "Delta Heat", contractx.StatusDiscovered)
	storetest.Insert(t, st, c, a, b, d)

	bundles, err := NewAssembler(st).AssemblePortfolio(context.Background(), "t1", "rep@example.com", 10)
	if err != nil {
		t.Fatalf("AssemblePortfolio() error = %v", err)
	}
	if len(bundles) != 2 || bundles[0].Account.ID != "a" || bundles[1].Account.ID != "c" {
		t.Fatalf("bundles = %d, want a then c", len(bundles))
	}

	text := RenderPortfolio(bundles)
	if strings.Count(text, "# Account:") != 2 {
		t.Fatalf("portfolio render:\n%s", text)
	}
}

func TestMoney(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   float64
		want string
	}{
		{150000, "$150,000"},
		{999.6, "$1,000"},
		{-2500, "-$2,500"},
		{0, "$0"},
	}
	for _, tc := range cases {
		if got := Money(tc.in); got != tc.want {
			t.Fatalf("Money(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
