package vaults

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const vaultsPath = "/harvestable-vaults"

// APIOptions parameterise the vault registry client.
type APIOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// API fetches vault snapshots from the registry HTTP service.
type API struct {
	opts    APIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAPI constructs a vault registry client.
func NewAPI(opts APIOptions, logger zerolog.Logger) *API {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &API{
		opts:    opts,
		logger:  logger.With().Str("component", "vault_api").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type vaultPayload struct {
	ID              string   `json:"id"`
	Chain           string   `json:"chain"`
	StrategyAddress string   `json:"strategy"`
	PlatformID      string   `json:"platformId"`
	TVLUSD          *float64 `json:"tvl"`
	Status          string   `json:"status"`
	Type            string   `json:"type"`
	StrategyTypeID  string   `json:"strategyTypeId"`
	LastHarvest     int64    `json:"lastHarvest"`
}

// ListVaults retrieves the vault set for one chain.
func (a *API) ListVaults(ctx context.Context, chain string) ([]Vault, error) {
	if a.baseURL == "" {
		return nil, errors.New("vault api base url not configured")
	}

	endpoint := fmt.Sprintf("%s%s?chain=%s", a.baseURL, vaultsPath, chain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vault api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload []vaultPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode vault api response: %w", err)
	}

	out := make([]Vault, 0, len(payload))
	for _, p := range payload {
		v := Vault{
			ID:              p.ID,
			Chain:           p.Chain,
			StrategyAddress: p.StrategyAddress,
			PlatformID:      p.PlatformID,
			EOL:             p.Status == "eol",
			IsCLMManager:    p.Type == "cowcentrated-manager",
			IsCLMVault:      p.Type == "cowcentrated",
			StrategyTypeID:  p.StrategyTypeID,
		}
		if p.TVLUSD != nil {
			v.TVLUSD = decimal.NewFromFloat(*p.TVLUSD)
		}
		if p.LastHarvest > 0 {
			t := time.Unix(p.LastHarvest, 0).UTC()
			v.LastHarvest = &t
		}
		out = append(out, v)
	}

	a.logger.Debug().Str("chain", chain).Int("vaults", len(out)).Msg("fetched vault snapshot")
	return out, nil
}

var _ Source = (*API)(nil)
