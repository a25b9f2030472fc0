package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// Health is the availability probe's outcome, which the dispatcher maps
// onto its exit codes (spec §4.6 step 5): the two deferring outcomes
// share code 3, and the two blocking outcomes block the task and
// return code 1.
type Health string

const (
	HealthHealthy          Health = "healthy"
	HealthUnavailable       Health = "unavailable"        // defer dispatch, code 3
	HealthRateLimited       Health = "rate_limited"        // defer dispatch, code 3
	HealthCreditsExhausted  Health = "credits_exhausted"   // block task permanently
	HealthInvalidKey        Health = "invalid_key"         // block task permanently
)

// Blocking reports whether a Health outcome should block the task
// permanently rather than merely defer dispatch.
func (h Health) Blocking() bool {
	return h == HealthCreditsExhausted || h == HealthInvalidKey
}

const fileCacheTTL = 5 * time.Minute

type cacheEntry struct {
	Health    Health    `json:"health"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober probes model availability, caching results twice over: an
// in-memory per-pulse cache (no repeated probes within one pulse) and a
// ~5-minute file cache under health/<provider-model> (spec §4.6 step 5,
// §6's persisted-state layout).
type Prober struct {
	client   anthropic.Client
	cacheDir string
	breaker  *gobreaker.CircuitBreaker

	pulseCache map[string]Health
}

// NewProber constructs a prober. apiKey resolution mirrors the
// teacher's Haiku client: the ANTHROPIC_API_KEY environment variable
// takes precedence over an explicit key.
func NewProber(apiKey, cacheDir string) *Prober {
	envKey := os.Getenv("ANTHROPIC_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}

	settings := gobreaker.Settings{
		Name:        "model-health-probe",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Prober{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		cacheDir:   cacheDir,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		pulseCache: make(map[string]Health),
	}
}

// ResetPulseCache clears the per-pulse probe memo; call once at the
// start of each pulse cycle.
func (p *Prober) ResetPulseCache() {
	p.pulseCache = make(map[string]Health)
}

// Probe returns the cached health for modelID if available (pulse
// cache, then file cache), otherwise performs a live, 15-second-bounded
// probe call through the circuit breaker and caches the result.
func (p *Prober) Probe(ctx context.Context, modelID string) (Health, error) {
	if h, ok := p.pulseCache[modelID]; ok {
		return h, nil
	}
	if h, ok := p.readFileCache(modelID); ok {
		p.pulseCache[modelID] = h
		return h, nil
	}

	h, err := p.probeLive(ctx, modelID)
	p.pulseCache[modelID] = h
	_ = p.writeFileCache(modelID, h) // best-effort
	return h, err
}

func (p *Prober) probeLive(ctx context.Context, modelID string) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := p.breaker.Execute(func() (any, error) {
		return p.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(modelID),
			MaxTokens: 1,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
			},
		})
	})
	if err == nil {
		return HealthHealthy, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return HealthUnavailable, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return HealthUnavailable, nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return HealthInvalidKey, nil
		case apiErr.StatusCode == 402:
			return HealthCreditsExhausted, nil
		case apiErr.StatusCode == 429:
			return HealthRateLimited, nil
		case apiErr.StatusCode >= 500:
			return HealthUnavailable, nil
		}
	}

	return HealthUnavailable, fmt.Errorf("probing %s: %w", modelID, err)
}

func (p *Prober) cacheFile(modelID string) string {
	safe := filepath.Base(modelID)
	return filepath.Join(p.cacheDir, "health", safe)
}

func (p *Prober) readFileCache(modelID string) (Health, bool) {
	data, err := os.ReadFile(p.cacheFile(modelID))
	if err != nil {
		return "", false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	if time.Since(entry.CheckedAt) > fileCacheTTL {
		return "", false
	}
	return entry.Health, true
}

func (p *Prober) writeFileCache(modelID string, h Health) error {
	dir := filepath.Join(p.cacheDir, "health")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	data, err := json.Marshal(cacheEntry{Health: h, CheckedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := p.cacheFile(modelID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.cacheFile(modelID))
}
