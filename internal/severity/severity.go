package severity

import (
	"fmt"
	"strings"

	"vault-harvester/internal/outcome"
)

// Level is a totally ordered alerting severity.
type Level int

const (
	NotStarted Level = iota
	Success
	Info
	Notice
	Warning
	Error
)

var levelNames = [...]string{"not-started", "success", "info", "notice", "warning", "error"}

func (l Level) String() string {
	if l < NotStarted || l > Error {
		return fmt.Sprintf("severity(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalJSON renders the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON parses a level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	for i, candidate := range levelNames {
		if candidate == name {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity level %q", name)
}

// Merge returns the higher-ranked of two levels. Associative and commutative.
func Merge(a, b Level) Level {
	if a > b {
		return a
	}
	return b
}

// MergeAll folds Merge over the list starting from NotStarted.
func MergeAll(levels ...Level) Level {
	merged := NotStarted
	for _, l := range levels {
		merged = Merge(merged, l)
	}
	return merged
}

// Count tallies occurrences per level.
func Count(levels []Level) map[Level]int {
	counts := make(map[Level]int, len(levelNames))
	for _, l := range levels {
		counts[l]++
	}
	return counts
}

// Classifiable is the view of an outcome slot the classifier needs. A zero
// (unsettled) slot classifies as NotStarted.
type Classifiable interface {
	Settled() bool
	Failed() bool
	FailureReason() *outcome.ErrorReport
	ValueAny() any
}

// Leveled lets a success value supply its own severity.
type Leveled interface {
	SeverityLevel() Level
}

// Warner lets a success value flag itself as a warning.
type Warner interface {
	CarriesWarning() bool
}

// Context carries the chain/vault allowances that soften classification.
type Context struct {
	// BenignRPCError downgrades a matching failure message to Notice.
	// Set per chain for one known-noisy endpoint error.
	BenignRPCError string
	// OkNotHarvesting downgrades a vault's own rejected outcomes to Notice.
	OkNotHarvesting bool
}

// Classify maps an outcome slot to a severity level.
func Classify(slot Classifiable, ctx Context) Level {
	if slot == nil || !slot.Settled() {
		return NotStarted
	}

	if slot.Failed() {
		reason := slot.FailureReason()
		if ctx.BenignRPCError != "" && reason != nil &&
			strings.Contains(strings.ToLower(reason.Message), strings.ToLower(ctx.BenignRPCError)) {
			return Notice
		}
		if ctx.OkNotHarvesting {
			return Notice
		}
		return Error
	}

	value := slot.ValueAny()
	if warner, ok := value.(Warner); ok && warner.CarriesWarning() {
		return Warning
	}
	if leveled, ok := value.(Leveled); ok {
		return leveled.SeverityLevel()
	}
	return Success
}
