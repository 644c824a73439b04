package contract

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventEnrollmentChanged EventType = "enrollment_changed"
	EventGraduated         EventType = "graduated"
	EventRiskFlagged       EventType = "risk_flagged"
	EventOutcomeRecorded   EventType = "outcome_recorded"
)

// Event is one business fact propagated through the delivery queue. Each
// variant carries a stable type discriminant.
type Event interface {
	EventType() EventType
	Account() string
}

type EnrollmentChanged struct {
	AccountID string `json:"account_id" validate:"required"`
	From      string `json:"from" validate:"required"`
	To        string `json:"to" validate:"required,oneof=enrolled graduated discovered"`
}

type Graduated struct {
	AccountID  string    `json:"account_id" validate:"required"`
	Confidence float64   `json:"confidence" validate:"gte=0,lte=1"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"graduated_at"`
}

type RiskFlagged struct {
	AccountID string `json:"account_id" validate:"required"`
	RiskLevel string `json:"risk_level" validate:"required,oneof=high critical"`
	Summary   string `json:"summary"`
}

type OutcomeRecorded struct {
	AccountID string  `json:"account_id" validate:"required"`
	Outcome   string  `json:"outcome" validate:"required,oneof=won lost stalled progressed"`
	Value     float64 `json:"value" validate:"gte=0"`
	Notes     string  `json:"notes"`
}

func (e EnrollmentChanged) EventType() EventType { return EventEnrollmentChanged }
func (e EnrollmentChanged) Account() string { return e.AccountID }
func (e Graduated) EventType() EventType { return EventGraduated }
func (e Graduated) Account() string { return e.AccountID }
func (e RiskFlagged) EventType() EventType { return EventRiskFlagged }
func (e RiskFlagged) Account() string { return e.AccountID }
func (e OutcomeRecorded) EventType() EventType { return EventOutcomeRecorded }
func (e OutcomeRecorded) Account() string { return e.AccountID }

// ValidateEvent checks an event at the queue boundary.
func ValidateEvent(e Event) error {
	if e == nil {
		return fmt.Errorf("%w: event is nil", ErrValidation)
	}
	switch e.(type) {
	case EnrollmentChanged, Graduated, RiskFlagged, OutcomeRecorded:
	default:
		return fmt.Errorf("%w: unknown event variant %T", ErrValidation, e)
	}
	if err := Validator().Struct(e); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, e.EventType(), err)
	}
	return nil
}
