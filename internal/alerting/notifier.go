package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vault-harvester/internal/harvest"
	"vault-harvester/internal/severity"
)

// VaultError is the human-readable extraction of one failed vault.
type VaultError struct {
	VaultID string
	Level   severity.Level
	Reason  string
	Message string
}

// Notification summarises one finished chain pass for out-of-band alerting.
type Notification struct {
	Chain       string
	Level       severity.Level
	Harvested   int
	Skipped     int
	Errors      int
	ProfitWei   string
	FinishedAt  time.Time
	VaultErrors []VaultError
}

// Notifier delivers notifications; rate limiting happens on the receiving
// side.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// FromReport extracts a notification from a finalized chain report.
func FromReport(report *harvest.ChainReport) Notification {
	note := Notification{
		Chain:      report.Chain,
		Level:      report.Summary.Level,
		Harvested:  report.Summary.Harvested,
		Skipped:    report.Summary.Skipped,
		Errors:     report.Summary.Errors,
		ProfitWei:  report.Summary.AggregatedProfit.String(),
		FinishedAt: report.FinishedAt,
	}

	for _, item := range report.Items {
		if item.Summary.Level < severity.Warning {
			continue
		}
		ve := VaultError{VaultID: item.Vault.ID, Level: item.Summary.Level}
		switch {
		case item.Simulation.Failed():
			ve.Reason = "simulation failed"
			ve.Message = item.Simulation.Reason.Message
		case item.Transaction.Failed():
			ve.Reason = "transaction failed"
			ve.Message = item.Transaction.Reason.Message
		case item.Decision.Ok():
			if skip, ok := item.Decision.Value.(harvest.SkipDecision); ok {
				ve.Reason = string(skip.NotHarvestingReason)
			}
		}
		note.VaultErrors = append(note.VaultErrors, ve)
	}
	return note
}

// DiscordNotifier posts messages to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordNotifier constructs a Discord webhook notifier.
func NewDiscordNotifier(webhookURL string, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_discord").Logger(),
	}
}

// Notify posts the rendered notification to the webhook.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"content": renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("chain", note.Chain).
		Str("level", note.Level.String()).
		Int("vault_errors", len(note.VaultErrors)).
		Msg("alert dispatched (Discord)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Harvest %s] %s\n", note.Chain, strings.ToUpper(note.Level.String())))
	builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Harvested: %d, Skipped: %d, Errors: %d\n", note.Harvested, note.Skipped, note.Errors))
	builder.WriteString(fmt.Sprintf("Profit: %s wei\n", note.ProfitWei))
	for _, ve := range note.VaultErrors {
		builder.WriteString(fmt.Sprintf("- %s [%s] %s", ve.VaultID, ve.Level, ve.Reason))
		if ve.Message != "" {
			builder.WriteString(": " + truncate(ve.Message, 160))
		}
		builder.WriteByte('\n')
	}
	return builder.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

var _ Notifier = (*DiscordNotifier)(nil)
