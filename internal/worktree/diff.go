package worktree

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

// Diff returns the unified diff of wt's changes against its base commit.
func (m *Manager) Diff(wt model.Worktree) (string, error) {
	cmd := exec.Command("git", "diff", wt.BaseCommit, "HEAD")
	cmd.Dir = wt.Path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", model.Wrap(model.KindWorktreeFailed, "worktree.Diff", "git diff failed", err)
	}
	return string(out), nil
}

var shortstatPattern = regexp.MustCompile(`(\d+) files? changed(?:, (\d+) insertions?\(\+\))?(?:, (\d+) deletions?\(-\))?`)

// DiffStat returns the files-changed/insertions/deletions summary of wt's
// changes against its base commit.
func (m *Manager) DiffStat(wt model.Worktree) (model.DiffStat, error) {
	cmd := exec.Command("git", "diff", "--shortstat", wt.BaseCommit, "HEAD")
	cmd.Dir = wt.Path
	out, err := cmd.CombinedOutput()
	if err != nil {
		return model.DiffStat{}, model.Wrap(model.KindWorktreeFailed, "worktree.DiffStat", "git diff --shortstat failed", err)
	}

	match := shortstatPattern.FindStringSubmatch(strings.TrimSpace(string(out)))
	if match == nil {
		return model.DiffStat{}, nil
	}
	return model.DiffStat{
		FilesChanged: atoiOrZero(match[1]),
		Insertions:   atoiOrZero(match[2]),
		Deletions:    atoiOrZero(match[3]),
	}, nil
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// TruncateDiff truncates a diff string if it exceeds maxBytes, so journal
// entries and model prompts stay bounded.
func TruncateDiff(diff string, maxBytes int) string {
	if len(diff) <= maxBytes {
		return diff
	}
	return fmt.Sprintf("%s\n\n[diff truncated, %d of %d bytes shown]", diff[:maxBytes], maxBytes, len(diff))
}
