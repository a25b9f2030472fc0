package model

import "testing"

func TestHealthBlocking(t *testing.T) {
	blocking := []Health{HealthCreditsExhausted, HealthInvalidKey}
	for _, h := range blocking {
		if !h.Blocking() {
			t.Fatalf("expected %s to be blocking", h)
		}
	}
	deferring := []Health{HealthHealthy, HealthUnavailable, HealthRateLimited}
	for _, h := range deferring {
		if h.Blocking() {
			t.Fatalf("expected %s to not be blocking", h)
		}
	}
}

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := NewProber("test-key", dir)

	if err := p.writeFileCache("claude-haiku-4-5", HealthRateLimited); err != nil {
		t.Fatalf("writeFileCache: %v", err)
	}

	h, ok := p.readFileCache("claude-haiku-4-5")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if h != HealthRateLimited {
		t.Fatalf("got %s", h)
	}
}

func TestFileCacheMissForUncachedModel(t *testing.T) {
	dir := t.TempDir()
	p := NewProber("test-key", dir)
	if _, ok := p.readFileCache("never-cached"); ok {
		t.Fatal("expected cache miss")
	}
}

func TestPulseCacheAvoidsRepeatedFileReads(t *testing.T) {
	dir := t.TempDir()
	p := NewProber("test-key", dir)
	p.pulseCache["claude-haiku-4-5"] = HealthHealthy

	got, err := p.Probe(nil, "claude-haiku-4-5") //nolint:staticcheck // pulse-cache hit never reaches ctx use
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got != HealthHealthy {
		t.Fatalf("got %s", got)
	}
}
