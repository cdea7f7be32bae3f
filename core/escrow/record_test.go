package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestEscrowRecordValidate(t *testing.T) {
	agent := Pubkey{1}
	work := Hash{2}
	ts := int64(10)

	cases := []struct {
		name string
		rec  EscrowRecord
		ok   bool
	}{
		{"open", EscrowRecord{Status: StatusOpen}, true},
		{"open with agent", EscrowRecord{Status: StatusOpen, AssignedAgent: &agent}, false},
		{"open with claimed_at", EscrowRecord{Status: StatusOpen, ClaimedAt: &ts}, false},
		{"claimed", EscrowRecord{Status: StatusClaimed, AssignedAgent: &agent, ClaimedAt: &ts}, true},
		{"claimed without stamp", EscrowRecord{Status: StatusClaimed, AssignedAgent: &agent}, false},
		{"claimed with work", EscrowRecord{Status: StatusClaimed, AssignedAgent: &agent, ClaimedAt: &ts, WorkHash: &work}, false},
		{"submitted", EscrowRecord{Status: StatusSubmitted, AssignedAgent: &agent, ClaimedAt: &ts, WorkHash: &work, SubmittedAt: &ts}, true},
		{"submitted without work", EscrowRecord{Status: StatusSubmitted, AssignedAgent: &agent, ClaimedAt: &ts, SubmittedAt: &ts}, false},
		{"completed", EscrowRecord{Status: StatusCompleted, AssignedAgent: &agent, ClaimedAt: &ts, WorkHash: &work, SubmittedAt: &ts}, true},
		{"cancelled", EscrowRecord{Status: StatusCancelled}, true},
		{"cancelled with agent", EscrowRecord{Status: StatusCancelled, AssignedAgent: &agent}, false},
		{"disputed", EscrowRecord{Status: StatusDisputed, AssignedAgent: &agent}, true},
		{"disputed without agent", EscrowRecord{Status: StatusDisputed}, false},
		{"unknown status", EscrowRecord{Status: Status(42)}, false},
	}
	for _, tc := range cases {
		err := tc.rec.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("%s: expected ErrInvalidRecord, got %v", tc.name, err)
		}
	}
}

func TestCloneDoesNotShareOptionalFields(t *testing.T) {
	agent := Pubkey{1}
	ts := int64(5)
	rec := &EscrowRecord{Status: StatusClaimed, AssignedAgent: &agent, ClaimedAt: &ts}
	c := rec.Clone()
	*c.AssignedAgent = Pubkey{2}
	*c.ClaimedAt = 6
	if *rec.AssignedAgent != (Pubkey{1}) || *rec.ClaimedAt != 5 {
		t.Fatalf("clone aliases the original")
	}
	if (*EscrowRecord)(nil).Clone() != nil {
		t.Fatalf("nil clone")
	}
}

func TestStatusText(t *testing.T) {
	for s := StatusOpen; s <= StatusDisputed; s++ {
		got, err := ParseStatus(s.String())
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%q) = %v, %v", s.String(), got, err)
		}
	}
	if got, err := ParseStatus(" Claimed "); err != nil || got != StatusClaimed {
		t.Fatalf("ParseStatus is case sensitive: %v %v", got, err)
	}
	if _, err := ParseStatus("paid"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if StatusDisputed.IsLive() || !StatusSubmitted.IsLive() {
		t.Fatalf("IsLive wrong")
	}

	b, err := json.Marshal(struct {
		S Status `json:"s"`
	}{StatusSubmitted})
	if err != nil || string(b) != `{"s":"submitted"}` {
		t.Fatalf("json = %s, %v", b, err)
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"":                  nil,
		"TaskNotOpen":       ErrTaskNotOpen,
		"NotAssignedAgent":  ErrNotAssignedAgent,
		"CannotCancel":      ErrCannotCancel,
		"InsufficientFunds": fmt.Errorf("deposit bounty: %w", ErrInsufficientFunds),
		"OwnerMismatch":     fmt.Errorf("%w: %w", ErrUnauthorized, ErrOwnerMismatch),
		"Unauthorized":      ErrUnauthorized,
		"InvalidSeeds":      ErrOnCurve,
		"Internal":          errors.New("connection reset"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
