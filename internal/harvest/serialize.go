package harvest

import (
	"encoding/json"
	"fmt"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// Serialize renders a finalized report for storage or transmission. Large
// integers are already decimal strings and timestamps ISO-8601 via the field
// types; configured secret substrings are scrubbed case-insensitively from
// the whole document.
func Serialize(report *ChainReport, secrets []string) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal chain report: %w", err)
	}
	return Redact(data, secrets), nil
}

// Redact replaces every occurrence of each secret, case-insensitively,
// anywhere in the serialized text.
func Redact(data []byte, secrets []string) []byte {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(secret))
		data = pattern.ReplaceAll(data, []byte(redactedPlaceholder))
	}
	return data
}
