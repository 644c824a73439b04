package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/growth-orchestrator/agent/contract"
	storex "github.com/tanpawarit/growth-orchestrator/agent/store"
	"github.com/tanpawarit/growth-orchestrator/pkg/metrics"
)

const dateLayout = "2006-01-02"

type Repository interface {
	GetMemo(ctx context.Context, tenantID, runType string) (*storex.AgentMemo, error)
	SaveMemo(ctx context.Context, tenantID, runType string, apply func(memo *storex.AgentMemo, exists bool)) error
}

var _ contractx.MemoryStore = (*Store)(nil)

// Store keeps one rolling record per (tenant, run type). Concurrent writers
// for the same key are last-write-wins.
type Store struct {
	repo Repository
	now  func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns nil, nil when no run of this type has been recorded.
func (s *Store) Read(ctx context.Context, tenantID string, runType contractx.RunType) (*contractx.Memory, error) {
	memo, err := s.repo.GetMemo(ctx, tenantID, string(runType))
	if err != nil {
		return nil, fmt.Errorf("read memory %s: %w", runType, err)
	}
	if memo == nil {
		return nil, nil
	}
	return &contractx.Memory{
		LastRunAt:      memo.LastRunAt,
		LastRunSummary: memo.LastRunSummary,
		CurrentFocus:   memo.CurrentFocus,
		PatternNotes:   memo.PatternNotes,
		WatchItems:     memo.WatchItems,
	}, nil
}

// Write records a run. Pattern notes are prepended with the write date and
// never truncated.
func (s *Store) Write(ctx context.Context, tenantID string, runType contractx.RunType, update contractx.MemoryUpdate) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(string(runType)) == "" {
		return fmt.Errorf("%w: tenant and run type are required", contractx.ErrValidation)
	}

	now := s.now().UTC()
	err := s.repo.SaveMemo(ctx, tenantID, string(runType), func(memo *storex.AgentMemo, exists bool) {
		memo.LastRunAt = now
		memo.LastRunSummary = strings.TrimSpace(update.Summary)
		if focus := strings.TrimSpace(update.CurrentFocus); focus != "" || !exists {
			memo.CurrentFocus = focus
		}
		memo.PatternNotes = PrependNote(memo.PatternNotes, update.PatternNotesAddition, now)
		memo.WatchItems = openWatchItems(update.WatchItems, now)
	})
	if err != nil {
		return fmt.Errorf("write memory %s: %w", runType, err)
	}
	return nil
}

// WriteBestEffort logs and swallows write failures; the caller's primary
// effects have already committed.
func (s *Store) WriteBestEffort(ctx context.Context, tenantID string, runType contractx.RunType, update contractx.MemoryUpdate) {
	err := s.Write(ctx, tenantID, runType, update)
	metrics.MemoryWrite(string(runType), err)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tenant_id", tenantID).
			Str("run_type", string(runType)).
			Msg("memory write failed")
	}
}

// PrependNote puts "[YYYY-MM-DD] note" ahead of existing notes.
func PrependNote(existing, note string, at time.Time) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	tagged := fmt.Sprintf("[%s] %s", at.UTC().Format(dateLayout), note)
	if strings.TrimSpace(existing) == "" {
		return tagged
	}
	return tagged + "\n" + existing
}

// openWatchItems drops items whose expiry date is before today.
func openWatchItems(items []contractx.WatchItem, now time.Time) []contractx.WatchItem {
	today := now.UTC().Format(dateLayout)
	out := make([]contractx.WatchItem, 0, len(items))
	for _, item := range items {
		if item.ExpiresOn != "" && item.ExpiresOn < today {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Preamble renders a record for the system instruction. A nil record renders
// as an empty string.
func Preamble(m *contractx.Memory) string {
	if m == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Prior memory\n")
	if !m.LastRunAt.IsZero() {
		fmt.Fprintf(&b, "Last run: %s\n", m.LastRunAt.UTC().Format(dateLayout))
	}
	if m.LastRunSummary != "" {
		fmt.Fprintf(&b, "Last summary: %s\n", m.LastRunSummary)
	}
	if m.CurrentFocus != "" {
		fmt.Fprintf(&b, "Current focus: %s\n", m.CurrentFocus)
	}
	if m.PatternNotes != "" {
		b.WriteString("Pattern notes:\n")
		b.WriteString(m.PatternNotes)
		b.WriteString("\n")
	}
	if len(m.WatchItems) > 0 {
		b.WriteString("Open watch items:\n")
		for _, item := range m.WatchItems {
			fmt.Fprintf(&b, "- %s: %s", item.Subject, item.Signal)
			if item.ExpiresOn != "" {
				fmt.Fprintf(&b, " (until %s)", item.ExpiresOn)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
