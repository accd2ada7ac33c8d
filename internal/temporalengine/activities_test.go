package temporalengine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/chakravarti/internal/llm"
	"github.com/antigravity-dev/chakravarti/internal/metricsstore"
	"github.com/antigravity-dev/chakravarti/internal/model"
	"github.com/antigravity-dev/chakravarti/internal/planner"
	"github.com/antigravity-dev/chakravarti/internal/sandbox"
	"github.com/antigravity-dev/chakravarti/internal/verifier"
)

// fakeRunner stands in for internal/sandbox.Sandbox: it records the argv it
// was asked to run and returns a canned result.
type fakeRunner struct {
	calls    [][]string
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, worktreePath string, argv []string) (string, string, int, error) {
	f.calls = append(f.calls, argv)
	return f.stdout, f.stderr, f.exitCode, f.err
}

type fakeProvider struct {
	name   string
	models []llm.ModelInfo
	reply  string
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) Models() []llm.ModelInfo    { return f.models }
func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{Content: f.reply, Usage: llm.Usage{InputTokens: 100, OutputTokens: 20}}, nil
}

func newTestActivities(t *testing.T, modelReply string, runner *fakeRunner) *Activities {
	t.Helper()

	provider := &fakeProvider{
		name:   "test-provider",
		models: []llm.ModelInfo{{ID: "test-model", InputPriceMtok: 1, OutputPriceMtok: 1}},
		reply:  modelReply,
	}
	router := llm.NewRouter([]llm.Provider{provider}, nil)

	allowList, err := sandbox.NewAllowList([]sandbox.Entry{
		{Command: "go", Args: []string{"test", "{worktree}"}},
	})
	if err != nil {
		t.Fatalf("NewAllowList() error = %v", err)
	}

	v, err := verifier.New(runner, router)
	if err != nil {
		t.Fatalf("verifier.New() error = %v", err)
	}

	metricsPath := filepath.Join(t.TempDir(), "metrics.db")
	store, err := metricsstore.Open(metricsPath)
	if err != nil {
		t.Fatalf("metricsstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Activities{
		Planner:   planner.New(router),
		Router:    router,
		Verifier:  v,
		Runner:    runner,
		AllowList: allowList,
		Metrics:   store,
		Pricing:   map[string]llm.ModelInfo{"test-model": {ID: "test-model", InputPriceMtok: 1, OutputPriceMtok: 1}},
	}
}

func TestExecuteStepActivityRunsAllowedCommand(t *testing.T) {
	runner := &fakeRunner{exitCode: 0, stdout: "ok"}
	acts := newTestActivities(t, "go", runner)

	result, err := acts.ExecuteStepActivity(context.Background(), ExecuteStepInput{
		JobID:     "job-1",
		AttemptID: "job-1-attempt-1",
		Worktree:  model.Worktree{Path: "/tmp/wt"},
		Step:      model.Step{ID: "step-a", Description: "run tests"},
		Optimize:  model.OptimizeBalance,
	})
	if err != nil {
		t.Fatalf("ExecuteStepActivity() error = %v", err)
	}
	if result.Failed {
		t.Fatalf("expected success, got Failed=%v reason=%q", result.Failed, result.FailureReason)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "go" {
		t.Errorf("runner.calls = %v, want a single call resolved to 'go'", runner.calls)
	}
}

func TestExecuteStepActivityRejectsDisallowedCommand(t *testing.T) {
	runner := &fakeRunner{exitCode: 0}
	acts := newTestActivities(t, "rm -rf /", runner)

	result, err := acts.ExecuteStepActivity(context.Background(), ExecuteStepInput{
		JobID:    "job-1",
		Worktree: model.Worktree{Path: "/tmp/wt"},
		Step:     model.Step{ID: "step-a"},
	})
	if err != nil {
		t.Fatalf("ExecuteStepActivity() returned error instead of a failed result: %v", err)
	}
	if !result.Failed {
		t.Fatalf("expected a disallowed command to produce a Failed result")
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner should never have been invoked for a disallowed command, got %v", runner.calls)
	}
}

func TestExecuteStepActivityFailsOnNonZeroExit(t *testing.T) {
	runner := &fakeRunner{exitCode: 1, stderr: "boom"}
	acts := newTestActivities(t, "go", runner)

	result, err := acts.ExecuteStepActivity(context.Background(), ExecuteStepInput{
		JobID:    "job-1",
		Worktree: model.Worktree{Path: "/tmp/wt"},
		Step:     model.Step{ID: "step-a"},
	})
	if err != nil {
		t.Fatalf("ExecuteStepActivity() error = %v", err)
	}
	if !result.Failed {
		t.Fatalf("expected Failed=true for a non-zero exit code")
	}
}

func TestVerifyActivityAggregatesPerStepTestCommands(t *testing.T) {
	runner := &fakeRunner{exitCode: 0, stdout: "all good"}
	acts := newTestActivities(t, `{"status":"pass","evidence":"looks right"}`, runner)

	plan := model.Plan{
		Steps: []model.Step{
			{ID: "a", TestCommands: [][]string{{"go", "test", "./..."}}},
			{ID: "b", TestCommands: [][]string{{"go", "vet", "./..."}}, Acceptance: "no regressions"},
		},
	}

	result, err := acts.VerifyActivity(context.Background(), VerifyInput{
		JobID: "job-1", Worktree: model.Worktree{Path: "/tmp/wt"}, Plan: plan, Optimize: model.OptimizeBalance,
	})
	if err != nil {
		t.Fatalf("VerifyActivity() error = %v", err)
	}
	if !result.Passed {
		t.Fatalf("expected Passed=true, got Summary=%q", result.Summary)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected both steps' test commands to run, got %d calls: %v", len(runner.calls), runner.calls)
	}
}

func TestVerifyActivityFailsClosedOnFailingTestCommand(t *testing.T) {
	runner := &fakeRunner{exitCode: 1, stderr: "test failed"}
	acts := newTestActivities(t, `{"status":"pass","evidence":"n/a"}`, runner)

	plan := model.Plan{
		Steps: []model.Step{{ID: "a", TestCommands: [][]string{{"go", "test", "./..."}}}},
	}

	result, err := acts.VerifyActivity(context.Background(), VerifyInput{
		JobID: "job-1", Worktree: model.Worktree{Path: "/tmp/wt"}, Plan: plan,
	})
	if err != nil {
		t.Fatalf("VerifyActivity() error = %v", err)
	}
	if result.Passed {
		t.Fatalf("expected Passed=false when a test command exits non-zero")
	}
}

func TestCheckBudgetActivityZeroBudgetNeverExceeded(t *testing.T) {
	acts := newTestActivities(t, "", &fakeRunner{})

	exceeded, err := acts.CheckBudgetActivity(context.Background(), CheckBudgetInput{JobID: "job-1", BudgetUSD: 0})
	if err != nil {
		t.Fatalf("CheckBudgetActivity() error = %v", err)
	}
	if exceeded {
		t.Error("a zero budget should never be reported as exceeded")
	}
}

func TestCheckBudgetActivityReportsExceeded(t *testing.T) {
	acts := newTestActivities(t, "", &fakeRunner{})

	if err := acts.Metrics.RecordStepUsage("job-1", "step-a", "attempt-1", "test-model", 1_000_000, 0, 5.0); err != nil {
		t.Fatalf("RecordStepUsage() error = %v", err)
	}

	exceeded, err := acts.CheckBudgetActivity(context.Background(), CheckBudgetInput{JobID: "job-1", BudgetUSD: 1.0})
	if err != nil {
		t.Fatalf("CheckBudgetActivity() error = %v", err)
	}
	if !exceeded {
		t.Error("expected budget to be reported as exceeded")
	}
}

func TestJobMetricsActivityNilStoreReturnsZeroValue(t *testing.T) {
	acts := &Activities{}

	metrics, err := acts.JobMetricsActivity(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobMetricsActivity() error = %v", err)
	}
	if metrics.JobID != "job-1" || metrics.CostUSD != 0 {
		t.Errorf("expected zero-value metrics with JobID set, got %+v", metrics)
	}
}

func TestRecordUsageAttributesCostByModel(t *testing.T) {
	acts := newTestActivities(t, "", &fakeRunner{})

	acts.recordUsage(context.Background(), "job-1", "step-a", "attempt-1", "test-model", llm.Usage{InputTokens: 1_000_000, OutputTokens: 0})

	metrics, err := acts.Metrics.JobMetrics("job-1")
	if err != nil {
		t.Fatalf("JobMetrics() error = %v", err)
	}
	if metrics.CostUSD != 1.0 {
		t.Errorf("CostUSD = %v, want 1.0 (1M input tokens at $1/Mtok)", metrics.CostUSD)
	}
}
