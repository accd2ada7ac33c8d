package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/antigravity-dev/chakravarti/internal/config"
	"github.com/antigravity-dev/chakravarti/internal/journal"
	"github.com/antigravity-dev/chakravarti/internal/llm"
	"github.com/antigravity-dev/chakravarti/internal/metricsstore"
	"github.com/antigravity-dev/chakravarti/internal/model"
	"github.com/antigravity-dev/chakravarti/internal/planner"
	"github.com/antigravity-dev/chakravarti/internal/sandbox"
	"github.com/antigravity-dev/chakravarti/internal/temporalengine"
	"github.com/antigravity-dev/chakravarti/internal/verifier"
	"github.com/antigravity-dev/chakravarti/internal/worktree"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "chakravarti.toml", "path to config file")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("chakravartid starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	acts, err := buildActivities(cfg, logger)
	if err != nil {
		logger.Error("failed to build activities", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("starting temporal worker", "task_queue", cfg.Temporal.TaskQueue)
		if err := temporalengine.StartWorker(cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue, acts, logger); err != nil {
			logger.Error("temporal worker stopped with error", "error", err)
			cancel()
		}
	}()

	go runBranchJanitor(ctx, cfgManager, logger)

	logger.Info("chakravartid running", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			updated, err := config.Reload(*configPath)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			cfgManager.Set(updated)
			cfg = updated
			logger = configureLogger(cfg.General.LogLevel, *dev)
			slog.SetDefault(logger)
			logger.Info("config reloaded")
		default:
			shutdownStart := time.Now()
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			logger.Info("chakravartid stopped", "shutdown_duration", time.Since(shutdownStart).String())
			return
		}
	}
}

// runBranchJanitor periodically prunes job-private feature branches older
// than cfg.Worktree.CleanupMaxAge from the integration repo, the same
// conservative sweep the teacher's scheduler ran for stale workflows,
// generalized here to stale git branches instead. It never touches the
// currently checked-out branch or removes branches newer than the cutoff.
func runBranchJanitor(ctx context.Context, cfgManager config.ConfigManager, logger *slog.Logger) {
	const interval = time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := cfgManager.Get()
			cutoff := time.Now().Add(-cfg.Worktree.CleanupMaxAge.Duration)
			deleted, err := worktree.CleanupBranchesOlderThan(cfg.Worktree.RepoPath, "chakravarti/", cutoff)
			if err != nil {
				logger.Warn("branch janitor failed", "error", err)
				continue
			}
			if len(deleted) > 0 {
				logger.Info("branch janitor pruned stale branches", "count", len(deleted), "branches", deleted)
			}
		}
	}
}

// buildActivities wires every component the Temporal worker's Activities
// struct needs from a loaded Config: the sandbox allow list and Docker
// client, the git worktree manager, the Model Router's provider catalog,
// the metrics store, and the durable journal.
func buildActivities(cfg *config.Config, logger *slog.Logger) (*temporalengine.Activities, error) {
	allowEntries := make([]sandbox.Entry, 0, len(cfg.AllowList))
	for _, e := range cfg.AllowList {
		allowEntries = append(allowEntries, sandbox.Entry{Command: e.Command, Args: e.Args})
	}
	allowList, err := sandbox.NewAllowList(allowEntries)
	if err != nil {
		return nil, fmt.Errorf("building sandbox allow list: %w", err)
	}

	dockerCli, err := sandbox.NewDockerClient()
	if err != nil {
		return nil, fmt.Errorf("building docker client: %w", err)
	}
	sbox, err := sandbox.New(dockerCli, cfg.Sandbox.Image, allowList, cfg.Sandbox.CredDir, cfg.Sandbox.StepTimeout.Duration)
	if err != nil {
		return nil, fmt.Errorf("building sandbox: %w", err)
	}

	wtMgr, err := worktree.New(cfg.Worktree.RepoPath, cfg.Worktree.RootDir)
	if err != nil {
		return nil, fmt.Errorf("building worktree manager: %w", err)
	}

	providers, pricing, err := buildProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("building model providers: %w", err)
	}
	limiter := buildRateLimiter(cfg)
	router := llm.NewRouter(providers, limiter)

	v, err := verifier.New(sbox, router)
	if err != nil {
		return nil, fmt.Errorf("building verifier: %w", err)
	}

	metricsStore, err := metricsstore.Open(cfg.Storage.MetricsDBPath)
	if err != nil {
		return nil, fmt.Errorf("opening metrics store: %w", err)
	}

	recorder, err := metricsstore.NewRecorder()
	if err != nil {
		logger.Warn("failed to build otel recorder, proceeding without it", "error", err)
		recorder = nil
	}

	jrnl, err := journal.Open(cfg.Storage.JournalDir)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	return &temporalengine.Activities{
		Planner:         planner.New(router),
		Router:          router,
		Verifier:        v,
		Runner:          sbox,
		AllowList:       allowList,
		Worktrees:       wtMgr,
		Metrics:         metricsStore,
		Recorder:        recorder,
		Journal:         jrnl,
		Pricing:         pricing,
		PostMergeChecks: cfg.Worktree.PostMergeChecks,
	}, nil
}

// buildProviders constructs one llm.Provider per cfg.Providers entry and
// returns a pricing index keyed by model ID, for cost attribution.
func buildProviders(cfg *config.Config) ([]llm.Provider, map[string]llm.ModelInfo, error) {
	providers := make([]llm.Provider, 0, len(cfg.Providers))
	pricing := make(map[string]llm.ModelInfo)

	for _, name := range cfg.ProviderNames() {
		p := cfg.Providers[name]
		models := make([]llm.ModelInfo, 0, len(p.Models))
		for _, m := range p.Models {
			info := llm.ModelInfo{
				ID:              m.ID,
				InputPriceMtok:  m.InputPriceMtok,
				OutputPriceMtok: m.OutputPriceMtok,
				ExpectedLatency: time.Duration(m.ExpectedLatencyMillis) * time.Millisecond,
				ContextWindow:   m.ContextWindow,
				Tier:            m.Tier,
			}
			models = append(models, info)
			pricing[m.ID] = info
		}

		switch p.Kind {
		case "anthropic":
			provider, err := llm.NewAnthropicProviderFromAPIKey(p.APIKey, models)
			if err != nil {
				return nil, nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers = append(providers, provider)
		case "openai":
			provider, err := llm.NewOpenAIProviderFromAPIKey(p.APIKey, models)
			if err != nil {
				return nil, nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers = append(providers, provider)
		case "bedrock":
			awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(p.Region))
			if err != nil {
				return nil, nil, fmt.Errorf("provider %s: loading aws config: %w", name, err)
			}
			runtime := bedrockruntime.NewFromConfig(awsCfg)
			provider, err := llm.NewBedrockProvider(runtime, models)
			if err != nil {
				return nil, nil, fmt.Errorf("provider %s: %w", name, err)
			}
			providers = append(providers, provider)
		default:
			return nil, nil, model.New(model.KindBadConfig, "buildProviders", fmt.Sprintf("unknown provider kind %q", p.Kind))
		}
	}

	return providers, pricing, nil
}

// buildRateLimiter derives a single process-wide RateLimiter from cfg's
// per-provider rate limits, using the most conservative (lowest rate)
// configured entry so no provider is ever allowed to exceed its own cap.
func buildRateLimiter(cfg *config.Config) *llm.RateLimiter {
	rps, burst := 5.0, 10
	first := true
	for _, rl := range cfg.RateLimits {
		if first || rl.RequestsPerSecond < rps {
			rps = rl.RequestsPerSecond
			burst = rl.Burst
			first = false
		}
	}
	return llm.NewRateLimiter(rps, burst)
}
