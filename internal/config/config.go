// Package config loads and validates the Chakravarti TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is Chakravarti's top-level configuration: job defaults, the sandbox
// allow list, the provider catalog the Model Router ranks over, rate
// limits, and storage locations.
type Config struct {
	General    General                `toml:"general"`
	Job        JobDefaults            `toml:"job"`
	Sandbox    SandboxConfig          `toml:"sandbox"`
	AllowList  []AllowListEntry       `toml:"allow_list"`
	Providers  map[string]Provider    `toml:"providers"`
	RateLimits map[string]RateLimit   `toml:"rate_limits"`
	Worktree   WorktreeConfig         `toml:"worktree"`
	Storage    Storage                `toml:"storage"`
	Temporal   Temporal               `toml:"temporal"`
	API        API                    `toml:"api"`
}

// General holds process-wide, non-job-specific settings.
type General struct {
	LogLevel   string   `toml:"log_level"`
	DevLogging bool     `toml:"dev_logging"`
	TickInterval Duration `toml:"tick_interval"`
}

// JobDefaults are applied to a Job's JobConfig when a caller omits a field.
type JobDefaults struct {
	Optimize         string   `toml:"optimize"` // cost | time | balanced
	MaxAttempts      int      `toml:"max_attempts"`
	MaxParallelSteps int      `toml:"max_parallel_steps"`
	StepTimeout      Duration `toml:"step_timeout"`
	BudgetUSD        float64  `toml:"budget_usd"`
	DryRun           bool     `toml:"dry_run"`
}

// SandboxConfig configures the container every allow-listed command runs in.
type SandboxConfig struct {
	Image       string   `toml:"image"`
	CredDir     string   `toml:"cred_dir"`
	StepTimeout Duration `toml:"step_timeout"`
}

// AllowListEntry mirrors internal/sandbox.Entry for TOML decoding.
type AllowListEntry struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// Provider is one entry in the Model Router's provider catalog.
type Provider struct {
	Kind   string       `toml:"kind"` // anthropic | openai | bedrock
	APIKey string       `toml:"api_key"`
	Region string       `toml:"region"` // bedrock only
	Models []ModelEntry `toml:"models"`
}

// ModelEntry mirrors internal/llm.ModelInfo for TOML decoding.
type ModelEntry struct {
	ID                    string  `toml:"id"`
	InputPriceMtok        float64 `toml:"input_price_mtok"`
	OutputPriceMtok       float64 `toml:"output_price_mtok"`
	ExpectedLatencyMillis int     `toml:"expected_latency_ms"`
	ContextWindow         int     `toml:"context_window"`
	Tier                  int     `toml:"tier"`
}

// RateLimit configures internal/llm.RateLimiter per provider name.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// WorktreeConfig locates the job-private worktree tree and the source repo
// worktrees are created from.
type WorktreeConfig struct {
	RepoPath       string   `toml:"repo_path"`
	RootDir        string   `toml:"root_dir"`
	CleanupMaxAge  Duration `toml:"cleanup_max_age"`
	PostMergeChecks []string `toml:"post_merge_checks"`
}

// Storage locates the metrics store and journal on disk.
type Storage struct {
	MetricsDBPath string `toml:"metrics_db_path"`
	JournalDir    string `toml:"journal_dir"`
}

// Temporal configures the workflow engine's connection to the Temporal
// cluster the Orchestrator runs its JobWorkflow on.
type Temporal struct {
	HostPort  string `toml:"host_port"`
	Namespace string `toml:"namespace"`
	TaskQueue string `toml:"task_queue"`
}

// API configures the boundary HTTP/gRPC surface (submit/cancel/status/events).
type API struct {
	Bind     string   `toml:"bind"`
	Security Security `toml:"security"`
}

// Security holds API authentication settings.
type Security struct {
	AllowedTokens []string `toml:"allowed_tokens"`
}

// Clone returns a deep copy of cfg so callers under a read lock never
// observe mutation from a concurrent writer.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}

	cloned := *cfg
	cloned.AllowList = cloneAllowList(cfg.AllowList)
	cloned.Providers = cloneProviders(cfg.Providers)
	cloned.RateLimits = cloneRateLimits(cfg.RateLimits)
	cloned.Worktree.PostMergeChecks = cloneStringSlice(cfg.Worktree.PostMergeChecks)
	cloned.API.Security.AllowedTokens = cloneStringSlice(cfg.API.Security.AllowedTokens)
	return &cloned
}

func cloneAllowList(in []AllowListEntry) []AllowListEntry {
	if in == nil {
		return nil
	}
	out := make([]AllowListEntry, len(in))
	for i, e := range in {
		out[i] = AllowListEntry{Command: e.Command, Args: cloneStringSlice(e.Args)}
	}
	return out
}

func cloneProviders(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		models := make([]ModelEntry, len(v.Models))
		copy(models, v.Models)
		v.Models = models
		out[k] = v
	}
	return out
}

func cloneRateLimits(in map[string]RateLimit) map[string]RateLimit {
	if in == nil {
		return nil
	}
	out := make(map[string]RateLimit, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Load reads, defaults, normalizes, and validates a Chakravarti TOML
// configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Reload reads and validates a Chakravarti TOML configuration file. It
// mirrors Load but is named to reflect a runtime refresh call site.
func Reload(path string) (*Config, error) {
	return Load(path)
}

// LoadManager reads config from path and returns an RWMutex-backed
// thread-safe manager.
func LoadManager(path string) (ConfigManager, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	cfg, err := Reload(path)
	if err != nil {
		return nil, err
	}
	return NewRWMutexManager(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.TickInterval.Duration == 0 {
		cfg.General.TickInterval.Duration = 5 * time.Second
	}
	if cfg.Job.Optimize == "" {
		cfg.Job.Optimize = "balanced"
	}
	if cfg.Job.MaxAttempts == 0 {
		cfg.Job.MaxAttempts = 3
	}
	if cfg.Job.MaxParallelSteps == 0 {
		cfg.Job.MaxParallelSteps = 4
	}
	if cfg.Job.StepTimeout.Duration == 0 {
		cfg.Job.StepTimeout.Duration = 10 * time.Minute
	}
	if cfg.Sandbox.StepTimeout.Duration == 0 {
		cfg.Sandbox.StepTimeout.Duration = cfg.Job.StepTimeout.Duration
	}
	if cfg.Worktree.CleanupMaxAge.Duration == 0 {
		cfg.Worktree.CleanupMaxAge.Duration = 24 * time.Hour
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "chakravarti-jobs"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			continue
		}
		switch p.Kind {
		case "anthropic":
			p.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			p.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		cfg.Providers[name] = p
	}
}

func normalizePaths(cfg *Config) {
	cfg.Sandbox.CredDir = ExpandHome(cfg.Sandbox.CredDir)
	cfg.Worktree.RepoPath = ExpandHome(cfg.Worktree.RepoPath)
	cfg.Worktree.RootDir = ExpandHome(cfg.Worktree.RootDir)
	cfg.Storage.MetricsDBPath = ExpandHome(cfg.Storage.MetricsDBPath)
	cfg.Storage.JournalDir = ExpandHome(cfg.Storage.JournalDir)
}

func validate(cfg *Config) error {
	switch cfg.Job.Optimize {
	case "cost", "time", "balanced":
	default:
		return fmt.Errorf("job.optimize must be one of cost|time|balanced, got %q", cfg.Job.Optimize)
	}
	if cfg.Job.MaxAttempts < 1 {
		return fmt.Errorf("job.max_attempts must be >= 1, got %d", cfg.Job.MaxAttempts)
	}
	if cfg.Job.MaxParallelSteps < 1 {
		return fmt.Errorf("job.max_parallel_steps must be >= 1, got %d", cfg.Job.MaxParallelSteps)
	}
	if len(cfg.AllowList) == 0 {
		return fmt.Errorf("allow_list must not be empty: the Sandbox refuses every command without it")
	}
	seen := make(map[string]struct{}, len(cfg.AllowList))
	for _, e := range cfg.AllowList {
		command := strings.TrimSpace(e.Command)
		if command == "" {
			return fmt.Errorf("allow_list entry has an empty command")
		}
		if _, dup := seen[command]; dup {
			return fmt.Errorf("allow_list has duplicate command %q", command)
		}
		seen[command] = struct{}{}
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("providers must not be empty: the Model Router needs at least one candidate")
	}
	for name, p := range cfg.Providers {
		switch p.Kind {
		case "anthropic", "openai", "bedrock":
		default:
			return fmt.Errorf("providers.%s.kind must be one of anthropic|openai|bedrock, got %q", name, p.Kind)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("providers.%s must declare at least one model", name)
		}
	}
	if cfg.Worktree.RepoPath == "" {
		return fmt.Errorf("worktree.repo_path is required")
	}
	if cfg.Worktree.RootDir == "" {
		return fmt.Errorf("worktree.root_dir is required")
	}
	return nil
}

// ExpandHome expands a leading "~" in path to the current user's home
// directory, leaving other paths untouched.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ProviderNames returns cfg.Providers' keys sorted, for deterministic
// Router construction order.
func (cfg *Config) ProviderNames() []string {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
