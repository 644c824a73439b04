package accountctx

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tanpawarit/growth-orchestrator/agent/memory"
)

const (
	RenderSpendGaps    = 8
	RenderInteractions = 5

	dateLayout = "2006-01-02"
	none       = "None on file."
)

// ToPromptText renders a bundle in a fixed section order: identity,
// financials, contacts, spend gaps, interactions, active plan, projects,
// competitors, peers, learnings, prior memory.
func ToPromptText(b *Bundle) string {
	if b == nil {
		return ""
	}

	var w strings.Builder
	renderIdentity(&w, b)
	renderFinancials(&w, b)
	renderContacts(&w, b)
	renderSpendGaps(&w, b)
	renderInteractions(&w, b)
	renderActivePlan(&w, b)
	renderProjects(&w, b)
	renderCompetitors(&w, b)
	renderPeers(&w, b)
	renderLearnings(&w, b)
	if pre := memory.Preamble(b.Memory); pre != "" {
		w.WriteString("\n")
		w.WriteString(pre)
		w.WriteString("\n")
	}
	return strings.TrimRight(w.String(), "\n")
}

// RenderPortfolio renders several bundles separated by rules.
func RenderPortfolio(bundles []*Bundle) string {
	parts := make([]string, 0, len(bundles))
	for _, b := range bundles {
		if text := ToPromptText(b); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func Money(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + "$" + humanize.Comma(int64(math.Round(v)))
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func section(w *strings.Builder, title string) {
	fmt.Fprintf(w, "\n## %s\n", title)
}

func renderIdentity(w *strings.Builder, b *Bundle) {
	a := b.Account
	fmt.Fprintf(w, "# Account: %s (id %s)\n", a.Name, a.ID)
	fmt.Fprintf(w, "Segment: %s | Region: %s | Owner: %s\n", orDash(a.Segment), orDash(a.Region), orDash(a.OwnerEmail))
	fmt.Fprintf(w, "Program status: %s | Risk level: %s", orDash(a.Status), orDash(a.RiskLevel))
	if a.EnrolledAt != nil {
		fmt.Fprintf(w, " | Enrolled: %s", a.EnrolledAt.UTC().Format(dateLayout))
	}
	if a.GraduatedAt != nil {
		fmt.Fprintf(w, " | Graduated: %s", a.GraduatedAt.UTC().Format(dateLayout))
	}
	w.WriteString("\n")
}

func renderFinancials(w *strings.Builder, b *Bundle) {
	section(w, "Financials")
	m := b.Metrics
	if m == nil {
		w.WriteString(none + "\n")
		return
	}
	fmt.Fprintf(w, "Revenue T12M: %s | Revenue T3M: %s | Growth rate: %s\n",
		Money(m.RevenueT12M), Money(m.RevenueT3M), percent(m.GrowthRate))
	fmt.Fprintf(w, "Category penetration: %s | Opportunity score: %.0f | Days since last order: %d\n",
		percent(m.CategoryPenetration), m.OpportunityScore, m.DaysSinceLastOrder)
}

func renderContacts(w *strings.Builder, b *Bundle) {
	section(w, "Contacts")
	if len(b.Contacts) == 0 {
		w.WriteString(none + "\n")
		return
	}
	for _, c := range b.Contacts {
		fmt.Fprintf(w, "- %s, %s", c.Name, orDash(c.Role))
		if c.IsPrimary {
			w.WriteString(" (primary)")
		}
		w.WriteString("\n")
	}
}

func renderSpendGaps(w *strings.Builder, b *Bundle) {
	section(w, "Spend gaps")
	if len(b.SpendGaps) == 0 {
		w.WriteString(none + "\n")
		return
	}
	gaps := append(b.SpendGaps[:0:0], b.SpendGaps...)
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].EstimatedOpportunity != gaps[j].EstimatedOpportunity {
			return gaps[i].EstimatedOpportunity > gaps[j].EstimatedOpportunity
		}
		return gaps[i].Category < gaps[j].Category
	})
	if len(gaps) > RenderSpendGaps {
		gaps = gaps[:RenderSpendGaps]
	}
	for _, g := range gaps {
		fmt.Fprintf(w, "- %s: opportunity %s (current %s vs benchmark %s)\n",
			g.Category, Money(g.EstimatedOpportunity), Money(g.CurrentSpend), Money(g.BenchmarkSpend))
	}
}

func renderInteractions(w *strings.Builder, b *Bundle) {
	section(w, "Recent interactions")
	if len(b.Interactions) == 0 {
		w.WriteString(none + "\n")
		return
	}
	items := append(b.Interactions[:0:0], b.Interactions...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})
	if len(items) > RenderInteractions {
		items = items[:RenderInteractions]
	}
	for _, it := range items {
		fmt.Fprintf(w, "- %s [%s] %s", it.OccurredAt.UTC().Format(dateLayout), orDash(it.Kind), it.Summary)
		if it.Outcome != "" {
			fmt.Fprintf(w, " -> %s", it.Outcome)
		}
		w.WriteString("\n")
	}
}

func renderActivePlan(w *strings.Builder, b *Bundle) {
	section(w, "Active playbook")
	p := b.ActivePlan
	if p == nil {
		w.WriteString(none + "\n")
		return
	}
	fmt.Fprintf(w, "Type: %s | Urgency: %s | Since: %s\n", p.PlaybookType, p.Urgency, p.CreatedAt.UTC().Format(dateLayout))
	fmt.Fprintf(w, "Headline action: %s\n", p.HeadlineAction)
	for _, tp := range p.Content.TalkingPoints {
		fmt.Fprintf(w, "- %s\n", tp)
	}
}

func renderProjects(w *strings.Builder, b *Bundle) {
	section(w, "Open projects")
	if len(b.Projects) == 0 {
		w.WriteString(none + "\n")
		return
	}
	for _, p := range b.Projects {
		fmt.Fprintf(w, "- %s (%s, %s)", p.Name, orDash(p.Status), Money(p.Value))
		if p.DueDate != nil {
			fmt.Fprintf(w, " due %s", p.DueDate.UTC().Format(dateLayout))
		}
		w.WriteString("\n")
	}
}

func renderCompetitors(w *strings.Builder, b *Bundle) {
	section(w, "Competitors")
	if len(b.Competitors) == 0 {
		w.WriteString(none + "\n")
		return
	}
	for _, c := range b.Competitors {
		fmt.Fprintf(w, "- %s", c.Name)
		if c.Category != "" {
			fmt.Fprintf(w, " (%s)", c.Category)
		}
		if c.Notes != "" {
			fmt.Fprintf(w, ": %s", c.Notes)
		}
		w.WriteString("\n")
	}
}

func renderPeers(w *strings.Builder, b *Bundle) {
	section(w, "Similar graduated peers")
	if len(b.Peers) == 0 {
		w.WriteString(none + "\n")
		return
	}
	for _, p := range b.Peers {
		name := p.Name
		if name == "" {
			name = p.AccountBID
		}
		fmt.Fprintf(w, "- %s: similarity %.2f, graduated at %s T12M", name, p.Score, Money(p.AccountBGraduationRevenue))
		var shared []string
		if p.SharedSegment {
			shared = append(shared, "segment")
		}
		if p.SharedRegion {
			shared = append(shared, "region")
		}
		if len(shared) > 0 {
			fmt.Fprintf(w, ", same %s", strings.Join(shared, " and "))
		}
		w.WriteString("\n")
	}
}

func renderLearnings(w *strings.Builder, b *Bundle) {
	section(w, "Applicable learnings")
	if len(b.Learnings) == 0 {
		w.WriteString(none + "\n")
		return
	}
	for _, l := range b.Learnings {
		fmt.Fprintf(w, "- %s (confidence %.2f)\n", l.Insight, l.Confidence)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
