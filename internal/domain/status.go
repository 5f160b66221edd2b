package domain

import (
	"fmt"
	"strings"
)

// Status is the wire-visible lifecycle state of a Job.
type Status string

// Job status constants, in pipeline order
const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusContentGathered Status = "content_gathered"
	StatusScriptReady     Status = "script_ready"
	StatusAudioProcessing Status = "audio_processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

var pipelineOrder = []Status{
	StatusPending,
	StatusProcessing,
	StatusContentGathered,
	StatusScriptReady,
	StatusAudioProcessing,
	StatusCompleted,
}

var statusRank = func() map[Status]int {
	ranks := make(map[Status]int, len(pipelineOrder)+1)
	for i, status := range pipelineOrder {
		ranks[status] = i
	}
	ranks[StatusFailed] = len(pipelineOrder)
	return ranks
}()

// transitions is the legal-transition table. Each stage advances exactly one
// step; failed is reachable from every non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:         {StatusProcessing, StatusFailed},
	StatusProcessing:      {StatusContentGathered, StatusFailed},
	StatusContentGathered: {StatusScriptReady, StatusFailed},
	StatusScriptReady:     {StatusAudioProcessing, StatusFailed},
	StatusAudioProcessing: {StatusCompleted, StatusFailed},
}

// AllStatuses returns every known status in pipeline order followed by failed.
func AllStatuses() []Status {
	out := make([]Status, 0, len(pipelineOrder)+1)
	out = append(out, pipelineOrder...)
	return append(out, StatusFailed)
}

// NonTerminalStatuses returns the statuses a Job can still leave.
func NonTerminalStatuses() []Status {
	out := make([]Status, 0, len(transitions))
	for _, status := range pipelineOrder {
		if _, ok := transitions[status]; ok {
			out = append(out, status)
		}
	}
	return out
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusRank[status]; !ok {
		return "", fmt.Errorf("unknown job status %q", value)
	}
	return status, nil
}

// String implements fmt.Stringer
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank returns the position of the status in the fixed pipeline order.
// failed ranks after completed so that it never reads as a regression.
func (s Status) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanTransition reports whether from -> to is a legal single-step transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not in the table.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
