package ratecontrol

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestDelayForLimit(t *testing.T) {
	limit := RateLimit{RPM: 30, TPM: 60000}
	d := delayForLimit(limit, 1000)
	if d.Milliseconds() <= 0 {
		t.Fatalf("expected positive delay, got %v", d)
	}
	// 1000 tokens at 60k TPM needs a full second.
	if d < time.Second {
		t.Fatalf("expected at least 1s for token pacing, got %v", d)
	}
}

func TestDelayForLimitRequestFloor(t *testing.T) {
	limit := RateLimit{RPM: 60}
	d := delayForLimit(limit, 0)
	if d != time.Second {
		t.Fatalf("expected 1s floor at 60 RPM, got %v", d)
	}
}

func TestCombineLimits(t *testing.T) {
	a := RateLimit{RPM: 30, TPM: 50000}
	b := RateLimit{RPM: 20, TPM: 100000}
	combined := CombineLimits(a, b)
	if combined.RPM != 20 {
		t.Fatalf("expected RPM 20, got %d", combined.RPM)
	}
	if combined.TPM != 50000 {
		t.Fatalf("expected TPM 50000, got %d", combined.TPM)
	}
}

func TestCombineLimitsZeroMeansUnbounded(t *testing.T) {
	a := RateLimit{RPM: 0, TPM: 40000}
	b := RateLimit{RPM: 25, TPM: 0}
	combined := CombineLimits(a, b)
	if combined.RPM != 25 {
		t.Fatalf("expected RPM 25, got %d", combined.RPM)
	}
	if combined.TPM != 40000 {
		t.Fatalf("expected TPM 40000, got %d", combined.TPM)
	}
}

func TestLimitForProviderBuiltIn(t *testing.T) {
	limit := LimitForProvider("Tavily")
	if limit.RPM != 100 {
		t.Fatalf("expected tavily RPM 100, got %d", limit.RPM)
	}
	unknown := LimitForProvider("nonexistent-provider")
	if unknown.RPM <= 0 {
		t.Fatalf("expected fallback RPM for unknown provider, got %d", unknown.RPM)
	}
}

func TestLimiterForProviderShared(t *testing.T) {
	a := LimiterForProvider("tavily")
	b := LimiterForProvider("TAVILY")
	if a != b {
		t.Fatal("expected same limiter instance for same provider")
	}
	if a.Limit() == rate.Inf {
		t.Fatal("expected bounded limiter for tavily")
	}
	if a.Burst() != 10 {
		t.Fatalf("expected burst 10, got %d", a.Burst())
	}
}
