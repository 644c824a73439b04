package contract

import (
	"errors"
	"testing"
)

type scriptOutput struct {
	Script string `validate:"required,min=20,noplaceholder"`
}

func TestValidateOutputRejectsPlaceholders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		ok   bool
	}{
		{"Hi Dana, your water heater spend dropped 40% since March. Can we talk Thursday?", true},
		{"Hi [Insert contact name], I wanted to reach out about your account", false},
		{"Hello {{first_name}}, following up on the proposal we discussed", false},
		{"Script TBD once we have pricing from the distributor", false},
	}
	for _, tc := range cases {
		err := ValidateOutput(scriptOutput{Script: tc.text})
		if tc.ok && err != nil {
			t.Fatalf("ValidateOutput(%q) error = %v", tc.text, err)
		}
		if !tc.ok && !errors.Is(err, ErrSchemaViolation) {
			t.Fatalf("ValidateOutput(%q) error = %v, want ErrSchemaViolation", tc.text, err)
		}
	}
}

func TestValidateOutputWatchItemDate(t *testing.T) {
	t.Parallel()

	good := MemoryUpdate{
		Summary:    "Reviewed 4 accounts",
		WatchItems: []WatchItem{{Subject: "Acme", Signal: "order gap", ExpiresOn: "2026-11-01"}},
	}
	if err := ValidateOutput(good); err != nil {
		t.Fatalf("ValidateOutput() error = %v", err)
	}

	bad := good
	bad.WatchItems = []WatchItem{{Subject: "Acme", Signal: "order gap", ExpiresOn: "next week"}}
	if err := ValidateOutput(bad); !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("ValidateOutput() error = %v, want ErrSchemaViolation", err)
	}
}

func TestValidateEvent(t *testing.T) {
	t.Parallel()

	if err := ValidateEvent(RiskFlagged{AccountID: "a1", RiskLevel: RiskHigh}); err != nil {
		t.Fatalf("ValidateEvent() error = %v", err)
	}
	if err := ValidateEvent(RiskFlagged{AccountID: "a1", RiskLevel: RiskLow}); !errors.Is(err, ErrValidation) {
		t.Fatalf("ValidateEvent(low) error = %v, want ErrValidation", err)
	}
	if err := ValidateEvent(nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("ValidateEvent(nil) error = %v, want ErrValidation", err)
	}
}
