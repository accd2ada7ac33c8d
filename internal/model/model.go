// Package model defines Chakravarti's core data types: the Spec a caller
// submits, the Plan the Planner compiles from it, and the Job that tracks
// execution of that Plan to completion.
package model

import "time"

// SpecStep is a single unit of work as authored in a Spec, before planning.
type SpecStep struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	Acceptance   string     `json:"acceptance,omitempty"`
	TestCommands [][]string `json:"test_commands,omitempty"`
}

// Spec is the caller-supplied description of work: an ordered (but not
// necessarily topologically sorted) set of steps plus acceptance criteria.
type Spec struct {
	ID          string     `json:"id"`
	Goal        string     `json:"goal"`
	Steps       []SpecStep `json:"steps"`
	Constraints []string   `json:"constraints,omitempty"`
	Acceptance  []string   `json:"acceptance"`
}

// Step is a Plan-level unit of work: a SpecStep that has been placed into a
// Batch.
type Step struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	DependsOn    []string   `json:"depends_on,omitempty"`
	Acceptance   string     `json:"acceptance,omitempty"`
	TestCommands [][]string `json:"test_commands,omitempty"`
	BatchIndex   int        `json:"batch_index"`
}

// Batch groups Steps that have no dependency relationship between them and
// may therefore be dispatched in parallel.
type Batch struct {
	Index    int      `json:"index"`
	StepIDs  []string `json:"step_ids"`
}

// Plan is the compiled, executable form of a Spec: steps partitioned into
// dependency-respecting batches.
type Plan struct {
	SpecID    string    `json:"spec_id"`
	Steps     []Step    `json:"steps"`
	Batches   []Batch   `json:"batches"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

// StepByID returns the step with the given ID, or false if it does not exist.
func (p *Plan) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Verdict is the outcome of verifying a single step's acceptance criteria.
type Verdict struct {
	Status   VerdictStatus `json:"status"`
	Evidence string        `json:"evidence"`
}

// VerdictStatus enumerates the possible outcomes of a verification check.
type VerdictStatus string

const (
	VerdictPass    VerdictStatus = "pass"
	VerdictFail    VerdictStatus = "fail"
	VerdictUnknown VerdictStatus = "unknown"
)

// Worktree describes an isolated per-attempt git working tree.
type Worktree struct {
	ID            string        `json:"id"`
	JobID         string        `json:"job_id"`
	AttemptNumber int           `json:"attempt_number"`
	Path          string        `json:"path"`
	Branch        string        `json:"branch"`
	BaseBranch    string        `json:"base_branch"`
	BaseCommit    string        `json:"base_commit"`
	HeadCommit    string        `json:"head_commit,omitempty"`
	State         WorktreeState `json:"state"`
}

// WorktreeState is the forward-only lifecycle of a Worktree (invariant I2):
// fresh -> dirty -> verified -> merged, or any state -> discarded.
type WorktreeState string

const (
	WorktreeFresh     WorktreeState = "fresh"
	WorktreeDirty     WorktreeState = "dirty"
	WorktreeVerified  WorktreeState = "verified"
	WorktreeMerged    WorktreeState = "merged"
	WorktreeDiscarded WorktreeState = "discarded"
)

// DiffStat summarizes the size of a Worktree's change set without the full
// text, per the Worktree Manager's diffstat operation.
type DiffStat struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// Attempt is one pass through plan -> execute -> verify for a Job.
type Attempt struct {
	ID           string                 `json:"id"`
	JobID        string                 `json:"job_id"`
	Plan         Plan                   `json:"plan"`
	Worktree     Worktree               `json:"worktree"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      time.Time              `json:"ended_at,omitempty"`
	Verdicts     map[string]Verdict     `json:"verdicts,omitempty"`
	StepOutcomes map[string]StepOutcome `json:"step_outcomes,omitempty"`
	Status       AttemptStatus          `json:"status"`
}

// AttemptStatus enumerates the lifecycle states of a single Attempt.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptVerifying AttemptStatus = "verifying"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// StepOutcome is a single step's per-attempt disposition (spec §3's
// Attempt.step_outcomes and §4.8 step 3c's dependency-failure cascade).
type StepOutcome struct {
	StepID string          `json:"step_id"`
	Status StepOutcomeKind `json:"status"`
	Cause  string          `json:"cause,omitempty"`
}

// StepOutcomeKind enumerates a Step's disposition within one Attempt.
type StepOutcomeKind string

const (
	StepOutcomeCompleted StepOutcomeKind = "completed"
	StepOutcomeFailed    StepOutcomeKind = "failed"
	StepOutcomeSkipped   StepOutcomeKind = "skipped"
)

// CauseDependencyFailed is the Cause StepOutcomeSkipped carries when a step
// is skipped because a dependency failed (spec §4.8 step 3c).
const CauseDependencyFailed = "dependency_failed"

// CauseAttemptTimeout is the Cause StepOutcomeSkipped carries when an
// attempt's JobConfig.PerAttemptTimeout elapses before a step was dispatched.
const CauseAttemptTimeout = "attempt_timeout"

// RunState is the Orchestrator's live view of a Job: its current phase and
// which attempt, batch, and step are in flight.
type RunState struct {
	Phase        JobPhase `json:"phase"`
	AttemptCount int      `json:"attempt_count"`
	CurrentBatch int      `json:"current_batch"`
	ActiveSteps  []string `json:"active_steps,omitempty"`
}

// JobPhase enumerates the states of the Job lifecycle state machine
// described by the Orchestrator design.
type JobPhase string

const (
	JobCreated          JobPhase = "created"
	JobPlanning         JobPhase = "planning"
	JobAttemptRunning   JobPhase = "attempt_running"
	JobVerifying        JobPhase = "verifying"
	JobAttemptSucceeded JobPhase = "attempt_succeeded"
	JobSucceeded        JobPhase = "succeeded"
	JobFailed           JobPhase = "failed"
	JobCanceled         JobPhase = "canceled"
)

// JobConfig is the caller-supplied configuration for create_job, per the
// external interface: routing preference, retry budget, and resource caps.
type JobConfig struct {
	Optimize          RoutingPreference `json:"optimize"`
	MaxAttempts        int               `json:"max_attempts"`
	ReplanAfter        int               `json:"replan_after"`
	MaxParallelSteps   int               `json:"max_parallel_steps"`
	StepTimeout        time.Duration     `json:"step_timeout"`
	PerAttemptTimeout  time.Duration     `json:"per_attempt_timeout"`
	BudgetUSD          float64           `json:"budget_usd"`
	DryRun             bool              `json:"dry_run"`

	// PlannerOverride/ExecutorOverride pin the Model Router to a specific
	// model id for the planner or executor role, bypassing the optimize
	// preference entirely (spec §4.5 rule 1, the router's highest-precedence
	// rule). Empty means no override for that role.
	PlannerOverride  string `json:"planner_override,omitempty"`
	ExecutorOverride string `json:"executor_override,omitempty"`
}

// RoutingPreference is the Model Router selection policy requested by a Job.
type RoutingPreference string

const (
	OptimizeCost    RoutingPreference = "cost"
	OptimizeTime    RoutingPreference = "time"
	OptimizeBalance RoutingPreference = "balanced"
)

// StepKind identifies which role in the Orchestrator is asking the Model
// Router for a completion (spec §4.5's routing_context), since the
// planner/executor override rule and per-step budget demotion both depend on
// which role is calling.
type StepKind string

const (
	StepKindPlanner    StepKind = "planner"
	StepKindExecutor   StepKind = "executor"
	StepKindAcceptance StepKind = "acceptance_check"
)

// Metrics accumulates token usage and cost for a Job.
type Metrics struct {
	JobID       string             `json:"job_id"`
	InputTokens int64              `json:"input_tokens"`
	OutputTokens int64             `json:"output_tokens"`
	CostUSD     float64            `json:"cost_usd"`
	ByModel     map[string]float64 `json:"by_model,omitempty"`
}

// Job is the top-level unit of orchestration: a Spec, its evolving Plan, its
// Attempts, and the accumulated Metrics and RunState.
type Job struct {
	ID        string    `json:"id"`
	Spec      Spec      `json:"spec"`
	Config    JobConfig `json:"config"`
	State     RunState  `json:"state"`
	Metrics   Metrics   `json:"metrics"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobEventKind enumerates the tagged union of events appended to a Job's
// durable journal.
type JobEventKind string

const (
	EventJobCreated        JobEventKind = "job_created"
	EventPlanCreated       JobEventKind = "plan_created"
	EventBatchStarted      JobEventKind = "batch_started"
	EventStepStarted       JobEventKind = "step_started"
	EventStepCompleted     JobEventKind = "step_completed"
	EventStepFailed        JobEventKind = "step_failed"
	EventStepSkipped       JobEventKind = "step_skipped"
	EventVerificationDone  JobEventKind = "verification_done"
	EventAttemptSucceeded  JobEventKind = "attempt_succeeded"
	EventAttemptFailed     JobEventKind = "attempt_failed"
	EventReplanned         JobEventKind = "replanned"
	EventJobSucceeded      JobEventKind = "job_succeeded"
	EventJobFailed         JobEventKind = "job_failed"
	EventJobCanceled       JobEventKind = "job_canceled"
)

// JobEvent is a single durable, timestamped fact about a Job's progress.
// Seq is assigned by the journal that appends it (invariant: 1..N, strictly
// increasing per job — spec §3/§8's P4).
type JobEvent struct {
	JobID      string         `json:"job_id"`
	Seq        int            `json:"seq"`
	Kind       JobEventKind   `json:"kind"`
	Timestamp  time.Time      `json:"timestamp"`
	AttemptID  string         `json:"attempt_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	BatchIndex int            `json:"batch_index,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}
