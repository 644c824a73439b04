package prompt

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
)

func TestLoadPromptSetCoversEveryRunType(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, rt := range []contractx.RunType{
		contractx.RunTypePlaybook,
		contractx.RunTypeWeeklyReview,
		contractx.RunTypeDailyDigest,
		contractx.RunTypeQuery,
	} {
		if _, err := set.For(rt); err != nil {
			t.Fatalf("For(%s) error = %v", rt, err)
		}
	}

	if _, err := (PromptSet{}).For(contractx.RunTypePlaybook); !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("For() on empty set error = %v, want ErrPromptMissing", err)
	}
}

func TestSystemSkipsEmptySections(t *testing.T) {
	t.Parallel()

	got := System("identity", "  ", "context")
	if got != "identity\n\ncontext" {
		t.Fatalf("System() = %q", got)
	}
}
