package cache

import (
	"testing"
	"time"

	"github.com/threatforge/enrichment-engine/internal/config"
	"github.com/threatforge/enrichment-engine/pkg/models"
)

func newTestCache(positive, negative time.Duration) (*ResultCache, *time.Time) {
	c := New(positive, negative)
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("virustotal", models.IOCTypeDomain, "evil.example.com")
	b := Key("virustotal", models.IOCTypeDomain, "evil.example.com")
	if a != b {
		t.Errorf("same inputs must hash identically: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}

	if Key("urlscan", models.IOCTypeDomain, "evil.example.com") == a {
		t.Error("provider must be part of the key")
	}
	if Key("virustotal", models.IOCTypeURL, "evil.example.com") == a {
		t.Error("IOC type must be part of the key")
	}
}

func TestCache_PositiveTTL(t *testing.T) {
	c, clock := newTestCache(time.Hour, time.Minute)
	key := Key("virustotal", models.IOCTypeDomain, "evil.example.com")

	c.Put(key, models.NormalizedResult{Verdict: models.VerdictMalicious, Evidence: "bad"})

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit before expiry")
	}
	if got.Verdict != models.VerdictMalicious {
		t.Errorf("verdict = %s, want malicious", got.Verdict)
	}

	*clock = clock.Add(59 * time.Minute)
	if _, ok := c.Get(key); !ok {
		t.Error("expected hit just before positive TTL")
	}

	*clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Error("expected miss after positive TTL")
	}
	if c.Len() != 0 {
		t.Error("expired entry should be evicted on read")
	}
}

func TestCache_NegativeTTLForUnknown(t *testing.T) {
	c, clock := newTestCache(time.Hour, time.Minute)
	key := Key("urlscan", models.IOCTypeURL, "https://example.com")

	c.Put(key, models.NormalizedResult{Verdict: models.VerdictUnknown, Evidence: "API error: 503"})

	*clock = clock.Add(30 * time.Second)
	if _, ok := c.Get(key); !ok {
		t.Error("expected hit within negative TTL")
	}

	*clock = clock.Add(31 * time.Second)
	if _, ok := c.Get(key); ok {
		t.Error("unknown verdict must expire at the negative TTL, not the positive one")
	}
}

func TestCache_TTLClamping(t *testing.T) {
	c := New(time.Second, time.Second)
	positive, negative := c.TTLs()
	if positive != config.PositiveTTLMin {
		t.Errorf("positive TTL = %v, want clamped to %v", positive, config.PositiveTTLMin)
	}
	if negative != config.NegativeTTLMin {
		t.Errorf("negative TTL = %v, want clamped to %v", negative, config.NegativeTTLMin)
	}

	positive, negative = c.SetTTLs(30*24*time.Hour, 48*time.Hour)
	if positive != config.PositiveTTLMax {
		t.Errorf("positive TTL = %v, want clamped to %v", positive, config.PositiveTTLMax)
	}
	if negative != config.NegativeTTLMax {
		t.Errorf("negative TTL = %v, want clamped to %v", negative, config.NegativeTTLMax)
	}
}

func TestCache_SetTTLsAffectsFutureWritesOnly(t *testing.T) {
	c, clock := newTestCache(time.Hour, time.Minute)
	key := Key("virustotal", models.IOCTypeMD5, "d41d8cd98f00b204e9800998ecf8427e")

	c.Put(key, models.NormalizedResult{Verdict: models.VerdictBenign})
	c.SetTTLs(2*time.Minute, time.Minute)

	// The existing entry keeps its original one-hour expiry.
	*clock = clock.Add(30 * time.Minute)
	if _, ok := c.Get(key); !ok {
		t.Error("existing entry must keep the expiry it was written with")
	}
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(time.Hour, time.Minute)
	c.Put("a", models.NormalizedResult{Verdict: models.VerdictBenign})
	c.Put("b", models.NormalizedResult{Verdict: models.VerdictUnknown})

	if n := c.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Error("cache should be empty after Clear")
	}
	if _, ok := c.Get("a"); ok {
		t.Error("cleared entry must not be served")
	}
}
