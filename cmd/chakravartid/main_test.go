package main

import (
	"log/slog"
	"testing"

	"github.com/antigravity-dev/chakravarti/internal/config"
	"github.com/antigravity-dev/chakravarti/internal/model"
)

func TestConfigureLoggerLevels(t *testing.T) {
	cases := []struct {
		logLevel string
		want     slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tc := range cases {
		logger := configureLogger(tc.logLevel, false)
		if !logger.Enabled(nil, tc.want) {
			t.Errorf("configureLogger(%q) not enabled at %v", tc.logLevel, tc.want)
		}
		if logger.Enabled(nil, tc.want-1) && tc.want != slog.LevelDebug {
			t.Errorf("configureLogger(%q) unexpectedly enabled below %v", tc.logLevel, tc.want)
		}
	}
}

func TestConfigureLoggerDevUsesTextHandler(t *testing.T) {
	logger := configureLogger("info", true)
	if logger == nil {
		t.Fatal("configureLogger returned nil")
	}
	if _, ok := logger.Handler().(*slog.TextHandler); !ok {
		t.Errorf("configureLogger(dev=true) handler = %T, want *slog.TextHandler", logger.Handler())
	}
}

func TestBuildProvidersDispatchesByKind(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.Provider{
			"anthropic-main": {
				Kind:   "anthropic",
				APIKey: "sk-test-key",
				Models: []config.ModelEntry{{ID: "claude-test", InputPriceMtok: 3, OutputPriceMtok: 15}},
			},
		},
	}

	providers, pricing, err := buildProviders(cfg)
	if err != nil {
		t.Fatalf("buildProviders() error = %v", err)
	}
	if len(providers) != 1 {
		t.Fatalf("len(providers) = %d, want 1", len(providers))
	}
	if providers[0].Name() != "anthropic" {
		t.Errorf("providers[0].Name() = %q, want anthropic", providers[0].Name())
	}
	info, ok := pricing["claude-test"]
	if !ok {
		t.Fatalf("pricing missing entry for claude-test")
	}
	if info.InputPriceMtok != 3 || info.OutputPriceMtok != 15 {
		t.Errorf("pricing[claude-test] = %+v, want {InputPriceMtok:3 OutputPriceMtok:15}", info)
	}
}

func TestBuildProvidersRejectsUnknownKind(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.Provider{
			"mystery": {
				Kind:   "carrier-pigeon",
				APIKey: "anything",
				Models: []config.ModelEntry{{ID: "m"}},
			},
		},
	}

	_, _, err := buildProviders(cfg)
	if !model.IsKind(err, model.KindBadConfig) {
		t.Fatalf("expected KindBadConfig for an unknown provider kind, got %v", err)
	}
}

func TestBuildProvidersPropagatesMissingAPIKey(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.Provider{
			"anthropic-main": {
				Kind:   "anthropic",
				APIKey: "",
				Models: []config.ModelEntry{{ID: "claude-test"}},
			},
		},
	}

	_, _, err := buildProviders(cfg)
	if err == nil {
		t.Fatal("expected an error when a provider's API key is empty")
	}
}

func TestBuildRateLimiterPicksMostConservativeEntry(t *testing.T) {
	cfg := &config.Config{
		RateLimits: map[string]config.RateLimit{
			"anthropic": {RequestsPerSecond: 10, Burst: 20},
			"openai":    {RequestsPerSecond: 2, Burst: 4},
			"bedrock":   {RequestsPerSecond: 5, Burst: 10},
		},
	}

	limiter := buildRateLimiter(cfg)
	if limiter == nil {
		t.Fatal("buildRateLimiter() returned nil")
	}
	// openai's entry (2 rps, burst 4) is the most conservative: exactly four
	// immediate requests fit its burst.
	for i := 0; i < 4; i++ {
		if !limiter.Allow("probe") {
			t.Fatalf("request %d denied, want the first 4 allowed by a burst of 4", i+1)
		}
	}
	if limiter.Allow("probe") {
		t.Fatal("fifth immediate request allowed, want the burst of 4 from the most conservative entry")
	}
}

func TestBuildRateLimiterDefaultsWithNoConfiguredLimits(t *testing.T) {
	limiter := buildRateLimiter(&config.Config{})
	if limiter == nil {
		t.Fatal("buildRateLimiter() returned nil for an empty config")
	}
}
