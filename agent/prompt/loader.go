package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

var (
	//go:embed template/playbook.txt
	playbookRaw string

	//go:embed template/review.txt
	reviewRaw string

	//go:embed template/digest.txt
	digestRaw string

	//go:embed template/query.txt
	queryRaw string
)

// PromptSet holds the identity preamble of each decision service.
type PromptSet struct {
	Playbook string
	Review   string
	Digest   string
	Query    string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Playbook: strings.TrimSpace(playbookRaw),
		Review:   strings.TrimSpace(reviewRaw),
		Digest:   strings.TrimSpace(digestRaw),
		Query:    strings.TrimSpace(queryRaw),
	}
}

// For returns the preamble for a run type.
func (p PromptSet) For(runType contractx.RunType) (string, error) {
	var text string
	switch runType {
	case contractx.RunTypePlaybook:
		text = p.Playbook
	case contractx.RunTypeWeeklyReview:
		text = p.Review
	case contractx.RunTypeDailyDigest:
		text = p.Digest
	case contractx.RunTypeQuery:
		text = p.Query
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", contractx.ErrPromptMissing, runType)
	}
	return text, nil
}

// System joins the non-empty sections of a system instruction with blank lines.
func System(sections ...string) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
