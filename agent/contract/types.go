package contract

import "time"

type RunType string

const (
	RunTypePlaybook     RunType = "playbook"
	RunTypeWeeklyReview RunType = "weekly_review"
	RunTypeDailyDigest  RunType = "daily_digest"
	RunTypeQuery        RunType = "query"
)

// Account enrollment status.
const (
	StatusDiscovered = "discovered"
	StatusEnrolled   = "enrolled"
	StatusGraduated  = "graduated"
)

// Advisory risk levels. High and critical raise a risk flag.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

func IsElevatedRisk(level string) bool {
	return level == RiskHigh || level == RiskCritical
}

type Memory struct {
	LastRunAt      time.Time   `json:"last_run_at"`
	LastRunSummary string      `json:"last_run_summary"`
	CurrentFocus   string      `json:"current_focus"`
	PatternNotes   string      `json:"pattern_notes"`
	WatchItems     []WatchItem `json:"watch_items"`
}

// MemoryUpdate is the memory block every decision service asks the model for.
type MemoryUpdate struct {
	Summary              string      `json:"summary" validate:"required"`
	CurrentFocus         string      `json:"current_focus"`
	PatternNotesAddition string      `json:"pattern_notes_addition"`
	WatchItems           []WatchItem `json:"watch_items" validate:"max=10,dive"`
}

type WatchItem struct {
	Subject   string `json:"subject" validate:"required"`
	Signal    string `json:"signal" validate:"required"`
	ExpiresOn string `json:"expires_on" validate:"omitempty,datetime=2006-01-02"`
}

type OutboundMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ChunkType string

const (
	ChunkToken ChunkType = "token"
	ChunkError ChunkType = "error"
	ChunkDone  ChunkType = "done"
)

type Chunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content,omitempty"`
}
