// Package worktree manages the per-attempt git worktrees the Orchestrator
// mutates: one isolated working directory per Attempt, created from the
// job's integration branch and merged back into it only once verified.
// The user's checked-out tree and branches are never touched (invariant I5).
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Manager creates, tracks, and destroys worktrees rooted at repoPath's
// integration branches, under a job-private directory tree.
type Manager struct {
	repoPath string
	rootDir  string
}

// New constructs a Manager. repoPath is the bare or working clone the
// integration branches live in; rootDir is the job-private directory all
// worktrees are created under (spec layout: rootDir/<job_id>/<attempt_n>/).
func New(repoPath, rootDir string) (*Manager, error) {
	repoPath = strings.TrimSpace(repoPath)
	rootDir = strings.TrimSpace(rootDir)
	if repoPath == "" {
		return nil, fmt.Errorf("worktree: repoPath is required")
	}
	if rootDir == "" {
		return nil, fmt.Errorf("worktree: rootDir is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("worktree: create root dir: %w", err)
	}
	return &Manager{repoPath: repoPath, rootDir: rootDir}, nil
}

// RepoPath returns the integration-branch checkout this Manager was built
// against, the workspace post-merge checks run in.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// RunPostMergeChecks runs checks against the integration branch's current
// HEAD (m.repoPath), purely as an observability signal: a failing check
// never reverses or gates a merge that MergeInto already completed.
func (m *Manager) RunPostMergeChecks(checks []string) (*DoDResult, error) {
	return RunPostMergeChecks(m.repoPath, checks)
}

func branchName(jobID string, attemptNumber int) string {
	return fmt.Sprintf("chakravarti/%s/attempt-%d", jobID, attemptNumber)
}

func (m *Manager) attemptPath(jobID string, attemptNumber int) string {
	return filepath.Join(m.rootDir, jobID, strconv.Itoa(attemptNumber))
}

// Create produces a new worktree rooted at integrationBranch's current head,
// in a job-private directory. Creating twice for the same (job, attempt) is
// idempotent: an existing worktree at the same path is returned as-is.
func (m *Manager) Create(jobID string, attemptNumber int, integrationBranch string) (model.Worktree, error) {
	path := m.attemptPath(jobID, attemptNumber)
	branch := branchName(jobID, attemptNumber)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		head, err := m.revParse(path, "HEAD")
		if err != nil {
			return model.Worktree{}, err
		}
		return model.Worktree{
			ID:            fmt.Sprintf("%s-%d", jobID, attemptNumber),
			JobID:         jobID,
			AttemptNumber: attemptNumber,
			Path:          path,
			Branch:        branch,
			BaseBranch:    integrationBranch,
			BaseCommit:    head,
			HeadCommit:    head,
			State:         model.WorktreeFresh,
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return model.Worktree{}, model.Wrap(model.KindWorktreeFailed, "worktree.Create", "create parent directory", err)
	}

	cmd := exec.Command("git", "worktree", "add", "-b", branch, path, integrationBranch)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return model.Worktree{}, model.Wrap(model.KindWorktreeFailed, "worktree.Create",
			fmt.Sprintf("git worktree add failed: %s", strings.TrimSpace(string(out))), err)
	}

	baseCommit, err := m.revParse(path, "HEAD")
	if err != nil {
		return model.Worktree{}, err
	}

	return model.Worktree{
		ID:            fmt.Sprintf("%s-%d", jobID, attemptNumber),
		JobID:         jobID,
		AttemptNumber: attemptNumber,
		Path:          path,
		Branch:        branch,
		BaseBranch:    integrationBranch,
		BaseCommit:    baseCommit,
		HeadCommit:    baseCommit,
		State:         model.WorktreeFresh,
	}, nil
}

// Snapshot returns the commit ids bounding the worktree's change set: the
// commit it branched from, and its current HEAD.
func (m *Manager) Snapshot(wt model.Worktree) (base, head string, err error) {
	head, err = m.revParse(wt.Path, "HEAD")
	if err != nil {
		return "", "", err
	}
	return wt.BaseCommit, head, nil
}

func (m *Manager) revParse(dir, ref string) (string, error) {
	cmd := exec.Command("git", "rev-parse", ref)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", model.Wrap(model.KindWorktreeFailed, "worktree.revParse",
			fmt.Sprintf("git rev-parse %s failed: %s", ref, strings.TrimSpace(string(out))), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// MergeInto creates a merge commit (git merge --no-ff) on integrationBranch
// from wt's branch, and never auto-resolves conflicts: a conflicting merge
// aborts and returns ErrMergeConflict. wt must be in the verified state
// (invariant I2); MergeInto itself enforces this rather than trusting the
// caller, since invariant I2 is meaningless if it can be bypassed by simply
// not checking.
func (m *Manager) MergeInto(integrationBranch string, wt model.Worktree) (headCommit string, err error) {
	if wt.State != model.WorktreeVerified {
		return "", model.New(model.KindWorktreeFailed, "worktree.MergeInto",
			fmt.Sprintf("worktree %s is in state %q, not %q: invariant I2 requires merging only a verified worktree",
				wt.ID, wt.State, model.WorktreeVerified))
	}
	return MergeBranchIntoBase(m.repoPath, wt.Branch, integrationBranch, "merge")
}

// Discard removes wt's directory and git worktree metadata. Idempotent: a
// missing path is not an error.
func (m *Manager) Discard(wt model.Worktree) error {
	if _, err := os.Stat(wt.Path); os.IsNotExist(err) {
		return nil
	}

	cmd := exec.Command("git", "worktree", "remove", "--force", wt.Path)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			return model.Wrap(model.KindWorktreeFailed, "worktree.Discard",
				fmt.Sprintf("git worktree remove failed (%s) and fallback rm failed", strings.TrimSpace(string(out))), rmErr)
		}
	}

	pruneCmd := exec.Command("git", "worktree", "prune")
	pruneCmd.Dir = m.repoPath
	_ = pruneCmd.Run()

	return nil
}
