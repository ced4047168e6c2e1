package storage

import (
	"encoding/json"
	"time"
)

// RunRecord is one persisted chain harvest pass.
type RunRecord struct {
	ID         int64
	Chain      string
	StartedAt  time.Time
	FinishedAt time.Time
	Level      string
	Harvested  int
	Skipped    int
	Errors     int
	// ProfitWei is a decimal string; wei amounts overflow every native
	// numeric type worth using.
	ProfitWei string
	// Report is the redacted serialized chain report.
	Report    json.RawMessage
	CreatedAt time.Time
}
