package outcome

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status discriminates a settled outcome.
type Status int

const (
	// StatusPending marks a slot whose operation has not completed yet.
	StatusPending Status = iota
	StatusSuccess
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "pending"
	}
}

// MarshalJSON renders the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "pending":
		*s = StatusPending
	case "success":
		*s = StatusSuccess
	case "failure":
		*s = StatusFailure
	default:
		return fmt.Errorf("unknown outcome status %q", name)
	}
	return nil
}

// Timing captures wall-clock bounds of one operation.
type Timing struct {
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

type timingJSON struct {
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	DurationMS int64     `json:"durationMs"`
}

// MarshalJSON renders duration in milliseconds.
func (t Timing) MarshalJSON() ([]byte, error) {
	return json.Marshal(timingJSON{
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
		DurationMS: t.Duration.Milliseconds(),
	})
}

// UnmarshalJSON parses the millisecond rendering.
func (t *Timing) UnmarshalJSON(data []byte) error {
	var parsed timingJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	t.StartedAt = parsed.StartedAt
	t.EndedAt = parsed.EndedAt
	t.Duration = time.Duration(parsed.DurationMS) * time.Millisecond
	return nil
}

// Outcome wraps the result of a fallible timed operation. Exactly one of
// Value/Reason is meaningful once the outcome settles.
type Outcome[T any] struct {
	Status Status       `json:"status"`
	Value  T            `json:"value,omitempty"`
	Reason *ErrorReport `json:"reason,omitempty"`
	Timing Timing       `json:"timing"`
}

// Success settles an outcome with a value.
func Success[T any](value T, timing Timing) Outcome[T] {
	return Outcome[T]{Status: StatusSuccess, Value: value, Timing: timing}
}

// Failure settles an outcome with a normalized failure reason.
func Failure[T any](reason *ErrorReport, timing Timing) Outcome[T] {
	return Outcome[T]{Status: StatusFailure, Reason: reason, Timing: timing}
}

// Ok reports whether the outcome settled successfully.
func (o Outcome[T]) Ok() bool {
	return o.Status == StatusSuccess
}

// Settled reports whether the operation has completed at all.
func (o Outcome[T]) Settled() bool {
	return o.Status != StatusPending
}

// Failed reports whether the operation completed with a failure.
func (o Outcome[T]) Failed() bool {
	return o.Status == StatusFailure
}

// ValueAny exposes the success value for callers that classify outcomes
// without knowing T.
func (o Outcome[T]) ValueAny() any {
	if !o.Ok() {
		return nil
	}
	return o.Value
}

// FailureReason returns the normalized failure, or nil.
func (o Outcome[T]) FailureReason() *ErrorReport {
	return o.Reason
}
