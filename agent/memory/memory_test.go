package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/agent/store/storetest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestWritePrependsDatedNotes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	mem := New(storetest.Open(t), WithClock(clk.now))

	got, err := mem.Read(ctx, "t1", contractx.RunTypeWeeklyReview)
	if err != nil || got != nil {
		t.Fatalf("Read() on empty store = %+v, %v, want nil, nil", got, err)
	}

	if err := mem.Write(ctx, "t1", contractx.RunTypeWeeklyReview, contractx.MemoryUpdate{
		Summary:              "first run",
		CurrentFocus:         "water heaters",
		PatternNotesAddition: "plumbing accounts respond to bundles",
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	clk.t = time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	if err := mem.Write(ctx, "t1", contractx.RunTypeWeeklyReview, contractx.MemoryUpdate{
		Summary:              "second run",
		PatternNotesAddition: "midwest orders dip in march",
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err = mem.Read(ctx, "t1", contractx.RunTypeWeeklyReview)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := "[2026-03-09] midwest orders dip in march\n[2026-03-02] plumbing accounts respond to bundles"
	if got.PatternNotes != want {
		t.Fatalf("PatternNotes = %q, want %q", got.PatternNotes, want)
	}
	if got.LastRunSummary != "second run" {
		t.Fatalf("LastRunSummary = %q", got.LastRunSummary)
	}
	if got.CurrentFocus != "water heaters" {
		t.Fatalf("CurrentFocus = %q, want prior focus kept", got.CurrentFocus)
	}
	if !got.LastRunAt.Equal(clk.t) {
		t.Fatalf("LastRunAt = %s, want %s", got.LastRunAt, clk.t)
	}
}

func TestWriteEmptyAdditionKeepsNotes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	mem := New(storetest.Open(t), WithClock(clk.now))

	_ = mem.Write(ctx, "t1", contractx.RunTypeDailyDigest, contractx.MemoryUpdate{Summary: "a", PatternNotesAddition: "note one"})
	_ = mem.Write(ctx, "t1", contractx.RunTypeDailyDigest, contractx.MemoryUpdate{Summary: "b"})

	got, err := mem.Read(ctx, "t1", contractx.RunTypeDailyDigest)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.PatternNotes != "[2026-03-02] note one" {
		t.Fatalf("PatternNotes = %q", got.PatternNotes)
	}
}

func TestWriteKeysByRunType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := New(storetest.Open(t))

	_ = mem.Write(ctx, "t1", contractx.RunTypePlaybook, contractx.MemoryUpdate{Summary: "playbook"})
	_ = mem.Write(ctx, "t1", contractx.RunTypeQuery, contractx.MemoryUpdate{Summary: "query"})

	got, err := mem.Read(ctx, "t1", contractx.RunTypePlaybook)
	if err != nil || got == nil || got.LastRunSummary != "playbook" {
		t.Fatalf("Read(playbook) = %+v, %v", got, err)
	}
	other, err := mem.Read(ctx, "t2", contractx.RunTypePlaybook)
	if err != nil || other != nil {
		t.Fatalf("Read(other tenant) = %+v, %v, want nil", other, err)
	}
}

func TestWriteDropsExpiredWatchItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &clock{t: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	mem := New(storetest.Open(t), WithClock(clk.now))

	err := mem.Write(ctx, "t1", contractx.RunTypeWeeklyReview, contractx.MemoryUpdate{
		Summary: "x",
		WatchItems: []contractx.WatchItem{
			{Subject: "Acme", Signal: "late payment", ExpiresOn: "2026-03-01"},
			{Subject: "Birch", Signal: "new buyer", ExpiresOn: "2026-04-01"},
			{Subject: "Cedar", Signal: "competitor visit"},
		},
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, _ := mem.Read(ctx, "t1", contractx.RunTypeWeeklyReview)
	if len(got.WatchItems) != 2 || got.WatchItems[0].Subject != "Birch" {
		t.Fatalf("WatchItems = %+v", got.WatchItems)
	}
}

type failingRepo struct{}

func (failingRepo) GetMemo(context.Context, string, string) (*storex.AgentMemo, error) {
	return nil, errors.New("db down")
}

func (failingRepo) SaveMemo(context.Context, string, string, func(*storex.AgentMemo, bool)) error {
	return errors.New("db down")
}

func TestWriteBestEffortSwallowsErrors(t *testing.T) {
	t.Parallel()

	mem := New(failingRepo{})
	mem.WriteBestEffort(context.Background(), "t1", contractx.RunTypeQuery, contractx.MemoryUpdate{Summary: "x"})

	if err := mem.Write(context.Background(), "t1", contractx.RunTypeQuery, contractx.MemoryUpdate{Summary: "x"}); err == nil {
		t.Fatal("Write() expected error")
	}
}

func TestPreamble(t *testing.T) {
	t.Parallel()

	if Preamble(nil) != "" {
		t.Fatal("Preamble(nil) should be empty")
	}
	got := Preamble(&contractx.Memory{
		LastRunAt:      time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		LastRunSummary: "graduated Acme",
		PatternNotes:   "[2026-03-09] note",
		WatchItems:     []contractx.WatchItem{{Subject: "Birch", Signal: "churn risk", ExpiresOn: "2026-04-01"}},
	})
	for _, want := range []string{"Last run: 2026-03-09", "Last summary: graduated Acme", "[2026-03-09] note", "- Birch: churn risk (until 2026-04-01)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Preamble() = %q, missing %q", got, want)
		}
	}
}
