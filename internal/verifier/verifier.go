// Package verifier runs a Step's test commands and acceptance check and
// produces a Verdict, enforcing the "else status=unknown" fallback policy
// for acceptance replies that don't parse.
package verifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/antigravity-dev/chakravarti/internal/llm"
	"github.com/antigravity-dev/chakravarti/internal/model"
)

// CommandRunner is the narrow slice of internal/sandbox.Sandbox the Verifier
// needs: running a single allow-listed command inside a worktree.
type CommandRunner interface {
	Run(ctx context.Context, worktreePath string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// AcceptanceChecker is the narrow slice of internal/llm.Router the Verifier
// needs: asking a model whether a step's acceptance criteria were met.
type AcceptanceChecker interface {
	Complete(ctx context.Context, rc llm.RoutingContext, systemPrompt, userPrompt string) (string, error)
}

// Verifier runs the verification stage of an Attempt: test commands through
// the Sandbox, then (if configured) an LLM-judged acceptance check.
type Verifier struct {
	runner  CommandRunner
	checker AcceptanceChecker
	schema  *jsonschema.Schema
}

// New constructs a Verifier. checker may be nil if the caller only needs
// test-command verification.
func New(runner CommandRunner, checker AcceptanceChecker) (*Verifier, error) {
	schema, err := compileAcceptanceSchema()
	if err != nil {
		return nil, err
	}
	return &Verifier{runner: runner, checker: checker, schema: schema}, nil
}

// RunTests executes testCommands in order inside worktreePath, stopping at
// the first non-zero exit and returning a Fail Verdict with its output as
// evidence. All commands passing returns a Pass Verdict.
func (v *Verifier) RunTests(ctx context.Context, worktreePath string, testCommands [][]string) (model.Verdict, error) {
	for _, argv := range testCommands {
		if len(argv) == 0 {
			continue
		}
		stdout, stderr, exitCode, err := v.runner.Run(ctx, worktreePath, argv)
		if err != nil {
			return model.Verdict{}, err
		}
		if exitCode != 0 {
			return model.Verdict{
				Status:   model.VerdictFail,
				Evidence: fmt.Sprintf("command %v exited %d\nstdout:\n%s\nstderr:\n%s", argv, exitCode, stdout, stderr),
			}, nil
		}
	}
	return model.Verdict{Status: model.VerdictPass, Evidence: "all test commands exited 0"}, nil
}

// CheckAcceptance asks the model whether step's acceptance criteria were met
// given a summary of what changed, validating the reply against the fixed
// {status, evidence} schema. A reply that fails to parse or validate yields
// VerdictUnknown rather than an error.
func (v *Verifier) CheckAcceptance(ctx context.Context, step model.Step, changeSummary string, rc llm.RoutingContext) (model.Verdict, error) {
	if v.checker == nil {
		return model.Verdict{Status: model.VerdictUnknown, Evidence: "no acceptance checker configured"}, nil
	}
	if strings.TrimSpace(step.Acceptance) == "" {
		return model.Verdict{Status: model.VerdictPass, Evidence: "step has no acceptance criteria"}, nil
	}

	system := "You verify whether a code change satisfies an acceptance criterion. " +
		`Reply with JSON only: {"status": "pass"|"fail"|"unknown", "evidence": "..."}.`
	user := fmt.Sprintf("Acceptance criterion: %s\nChange summary:\n%s", step.Acceptance, changeSummary)

	rc.StepKind = model.StepKindAcceptance
	if rc.Optimize == "" {
		rc.Optimize = model.OptimizeBalance
	}
	reply, err := v.checker.Complete(ctx, rc, system, user)
	if err != nil {
		return model.Verdict{}, err
	}

	status, evidence, ok := validateAcceptanceReply(v.schema, []byte(reply))
	if !ok {
		return model.Verdict{Status: model.VerdictUnknown, Evidence: "model reply did not match the acceptance schema"}, nil
	}

	return model.Verdict{Status: model.VerdictStatus(status), Evidence: evidence}, nil
}
