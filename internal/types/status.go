// Package types provides type definitions for structured data used throughout the swing coach pipeline.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the pipeline stage an analysis record is in.
type Status string

// Status values, in pipeline order.
const (
	StatusStarted      Status = "STARTED"
	StatusProcessing   Status = "PROCESSING"
	StatusCompleted    Status = "COMPLETED"
	StatusAIProcessing Status = "AI_PROCESSING"
	StatusAICompleted  Status = "AI_COMPLETED"
	StatusFailed       Status = "FAILED"
)

// AllStatuses lists every known status in pipeline order, FAILED last.
var AllStatuses = []Status{
	StatusStarted,
	StatusProcessing,
	StatusCompleted,
	StatusAIProcessing,
	StatusAICompleted,
	StatusFailed,
}

// transitions is the full set of legal moves. Anything absent is rejected.
// AI_PROCESSING -> AI_PROCESSING is a reclaim of a stale claim.
var transitions = map[Status][]Status{
	StatusStarted:      {StatusProcessing, StatusFailed},
	StatusProcessing:   {StatusCompleted, StatusFailed},
	StatusCompleted:    {StatusAIProcessing, StatusFailed},
	StatusAIProcessing: {StatusAIProcessing, StatusAICompleted, StatusFailed},
	StatusAICompleted:  {},
	StatusFailed:       {},
}

// ParseStatus converts a stored or wire value into a Status.
// Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[candidate]; ok {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transitions can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusAICompleted || s == StatusFailed
}

// IsSuccess reports whether s is the terminal success state.
func (s Status) IsSuccess() bool {
	return s == StatusAICompleted
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Rank orders non-failed statuses along the pipeline. FAILED ranks -1.
func (s Status) Rank() int {
	switch s {
	case StatusStarted:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted:
		return 2
	case StatusAIProcessing:
		return 3
	case StatusAICompleted:
		return 4
	default:
		return -1
	}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// UnmarshalJSON accepts any casing of a known status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TransitionError reports an attempt to move a record along an illegal edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match any *TransitionError.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CheckTransition returns a *TransitionError when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
