package escrow

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an escrow record.
type Status uint8

const (
	StatusOpen Status = iota
	StatusClaimed
	StatusSubmitted
	StatusCompleted
	StatusCancelled
	// StatusDisputed is reserved for a future dispute flow. No operation moves a
	// record into or out of it.
	StatusDisputed
)

var statusNames = [...]string{
	StatusOpen:      "open",
	StatusClaimed:   "claimed",
	StatusSubmitted: "submitted",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
	StatusDisputed:  "disputed",
}

func (s Status) Valid() bool { return int(s) < len(statusNames) }

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("status(%d)", uint8(s))
	}
	return statusNames[s]
}

// IsLive reports whether a record in this status still holds funds in custody.
func (s Status) IsLive() bool {
	return s == StatusOpen || s == StatusClaimed || s == StatusSubmitted
}

// ParseStatus accepts the lower-case names produced by String, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
