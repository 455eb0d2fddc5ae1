// Package marketsync keeps the market_signals table fresh. A background
// syncer pulls configured sources on an interval and batch-upserts the
// results; perception only ever reads what the last sync landed. The loop
// is isolated from the scheduler, so a dead feed costs signal freshness,
// never cycles.
package marketsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/nfa-labs/autopilot/pkg/models"
)

// Source produces one batch of market signals per fetch.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]*models.MarketSignal, error)
}

// SignalPayload is the wire form of one market signal, shared by the HTTP
// source and the ingest endpoints. Volume accepts both a JSON number and a
// decimal string so feeds written in languages without big integers can
// quote it.
type SignalPayload struct {
	ChainID         int64           `json:"chainId,omitempty"`
	Pair            string          `json:"pair"`
	PriceChangeBps  int64           `json:"priceChangeBps"`
	Volume5m        json.RawMessage `json:"volume5m,omitempty"`
	UniqueTraders5m int64           `json:"uniqueTraders5m"`
	SampledAt       *time.Time      `json:"sampledAt,omitempty"`
	Source          string          `json:"source,omitempty"`
}

// ToSignal normalizes the payload: missing chain id, sample time, and
// source name fall back to the given defaults.
func (p *SignalPayload) ToSignal(defaultChainID int64, now time.Time, defaultSource string) (*models.MarketSignal, error) {
	if p.Pair == "" {
		return nil, fmt.Errorf("signal missing pair")
	}
	volume, err := parseVolume(p.Volume5m)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %w", p.Pair, err)
	}

	s := &models.MarketSignal{
		ChainID:         p.ChainID,
		Pair:            p.Pair,
		PriceChangeBps:  p.PriceChangeBps,
		Volume5m:        volume,
		UniqueTraders5m: p.UniqueTraders5m,
		SampledAt:       now,
		Source:          p.Source,
	}
	if s.ChainID == 0 {
		s.ChainID = defaultChainID
	}
	if p.SampledAt != nil && !p.SampledAt.IsZero() {
		s.SampledAt = p.SampledAt.UTC()
	}
	if s.Source == "" {
		s.Source = defaultSource
	}
	return s, nil
}

// parseVolume reads a JSON number or a quoted decimal string into a big
// integer. Absent means zero.
func parseVolume(raw json.RawMessage) (*big.Int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return big.NewInt(0), nil
	}
	text := string(raw)
	if text[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return nil, fmt.Errorf("invalid volume5m %s", text)
		}
		text = unquoted
	}
	v, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("invalid volume5m %q", text)
	}
	return v, nil
}

// HTTPSourceConfig configures one HTTP feed.
type HTTPSourceConfig struct {
	// Name labels the source on stored signals and in logs.
	Name string

	// URL returns a JSON array of signal payloads, or an object with a
	// "signals" array.
	URL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// ChainID stamps signals the feed leaves unscoped.
	ChainID int64

	// Timeout bounds one fetch. Default 10s.
	Timeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// HTTPSource pulls signals from a JSON-over-HTTP feed.
type HTTPSource struct {
	cfg        HTTPSourceConfig
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP signal source.
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &HTTPSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *HTTPSource) Name() string { return s.cfg.Name }

// Fetch downloads and normalizes one batch of signals.
func (s *HTTPSource) Fetch(ctx context.Context) ([]*models.MarketSignal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signals from %s: %w", s.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal feed %s returned HTTP %d", s.cfg.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	payloads, err := decodePayloads(body)
	if err != nil {
		return nil, fmt.Errorf("decode signal feed %s: %w", s.cfg.Name, err)
	}

	now := s.cfg.Now()
	signals := make([]*models.MarketSignal, 0, len(payloads))
	for i := range payloads {
		sig, err := payloads[i].ToSignal(s.cfg.ChainID, now, s.cfg.Name)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// decodePayloads accepts either a bare JSON array or a {"signals": [...]}
// envelope.
func decodePayloads(body []byte) ([]SignalPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Signals []SignalPayload `json:"signals"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		return envelope.Signals, nil
	}
	var payloads []SignalPayload
	if err := json.Unmarshal(trimmed, &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}
