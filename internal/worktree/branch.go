package worktree

import (
	"fmt"
	"os/exec"
	"strings"
)

// ErrMergeConflict is returned by MergeBranchIntoBase when git reports a
// conflict; callers map it to model.KindMergeConflict rather than retrying
// the merge automatically.
var ErrMergeConflict = fmt.Errorf("worktree: merge conflict")

// GetCurrentBranch returns the branch currently checked out in workspace.
func GetCurrentBranch(workspace string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// BranchExists reports whether branch exists as a local ref in workspace.
func BranchExists(workspace, branch string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", fmt.Sprintf("refs/heads/%s", branch))
	cmd.Dir = workspace
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("failed to check if branch %s exists: %w", branch, err)
	}
	return true, nil
}

// MergeBranchIntoBase checks out baseBranch in workspace and merges
// featureBranch into it using mergeStrategy (merge, squash, or ff-only
// rebase), returning the resulting HEAD commit. If the merge conflicts,
// ErrMergeConflict is returned and the integration branch is left unchanged
// at its pre-merge head — never auto-resolved (invariant I3).
func MergeBranchIntoBase(workspace, featureBranch, baseBranch, mergeStrategy string) (string, error) {
	baseBranch = strings.TrimSpace(baseBranch)
	if baseBranch == "" {
		baseBranch = "main"
	}

	cmd := exec.Command("git", "checkout", baseBranch)
	cmd.Dir = workspace
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to checkout base branch %s: %w (%s)", baseBranch, err, strings.TrimSpace(string(out)))
	}

	strategy := strings.ToLower(strings.TrimSpace(mergeStrategy))
	if strategy == "" {
		strategy = "merge"
	}

	switch strategy {
	case "merge":
		cmd = exec.Command("git", "merge", "--no-ff", "--no-edit", featureBranch)
	case "squash":
		cmd = exec.Command("git", "merge", "--squash", featureBranch)
	case "rebase":
		cmd = exec.Command("git", "merge", "--ff-only", featureBranch)
	default:
		return "", fmt.Errorf("unsupported merge strategy %q", mergeStrategy)
	}
	cmd.Dir = workspace
	if out, err := cmd.CombinedOutput(); err != nil {
		text := strings.TrimSpace(string(out))
		lower := strings.ToLower(text)
		if strings.Contains(lower, "conflict") || strings.Contains(lower, "automatic merge failed") {
			abortCmd := exec.Command("git", "reset", "--merge")
			abortCmd.Dir = workspace
			_ = abortCmd.Run()
			return "", fmt.Errorf("%w: %s", ErrMergeConflict, text)
		}
		return "", fmt.Errorf("failed to merge branch %s into %s: %w (%s)", featureBranch, baseBranch, err, text)
	}

	if strategy == "squash" {
		commitMsg := fmt.Sprintf("squash merge %s", featureBranch)
		cmd = exec.Command("git", "commit", "-m", commitMsg)
		cmd.Dir = workspace
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("failed to commit squash merge for %s: %w (%s)", featureBranch, err, strings.TrimSpace(string(out)))
		}
	}

	headCmd := exec.Command("git", "rev-parse", "HEAD")
	headCmd.Dir = workspace
	out, err := headCmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to read post-merge HEAD: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// DeleteBranch deletes a local branch after it has been merged.
func DeleteBranch(workspace, branch string) error {
	cmd := exec.Command("git", "branch", "-d", branch)
	cmd.Dir = workspace
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w (%s)", branch, err, strings.TrimSpace(string(out)))
	}
	return nil
}
