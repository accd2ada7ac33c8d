package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antigravity-dev/chakravarti/internal/model"
)

var supportedPlaceholders = map[string]struct{}{
	"{worktree}": {},
	"{step_id}":  {},
}

var placeholderMatcher = regexp.MustCompile(`\{[^}]+\}`)

// Vars carries the values available for placeholder substitution when
// resolving an AllowList entry into a concrete argv.
type Vars struct {
	Worktree string
	StepID   string
}

// Entry is one command the AllowList permits the Sandbox to run, expressed
// as an argv template: the first element is the exact executable name a
// caller must request, the rest may reference {worktree}/{step_id}.
type Entry struct {
	Command string
	Args    []string
}

// AllowList is the boundary-owned set of commands the Sandbox is permitted
// to execute. Anything not in the list is rejected with KindNotAllowed
// before a container is ever created.
type AllowList struct {
	entries map[string]Entry
}

// NewAllowList builds an AllowList from entries, keyed by Command.
func NewAllowList(entries []Entry) (*AllowList, error) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		command := strings.TrimSpace(e.Command)
		if command == "" {
			return nil, fmt.Errorf("sandbox: allowlist entry has empty command")
		}
		if strings.ContainsRune(command, '\x00') {
			return nil, fmt.Errorf("sandbox: allowlist command %q contains NUL byte", command)
		}
		m[command] = e
	}
	return &AllowList{entries: m}, nil
}

// Resolve looks up command in the AllowList and substitutes vars into its
// argv template, returning KindNotAllowed if command is not allow-listed.
func (a *AllowList) Resolve(command string, vars Vars) ([]string, error) {
	entry, ok := a.entries[command]
	if !ok {
		return nil, model.New(model.KindNotAllowed, "sandbox.AllowList.Resolve",
			fmt.Sprintf("command %q is not in the allow list", command))
	}
	return buildArgv(entry, vars)
}

// buildArgv constructs an exec-compatible argv from entry's template,
// substituting the {worktree} and {step_id} placeholders and rejecting any
// unsupported placeholder or embedded NUL byte.
func buildArgv(entry Entry, vars Vars) ([]string, error) {
	argv := make([]string, 0, len(entry.Args)+1)
	argv = append(argv, entry.Command)

	for i, raw := range entry.Args {
		if strings.ContainsRune(raw, '\x00') {
			return nil, fmt.Errorf("sandbox: arg at index %d contains NUL byte", i)
		}
		if err := validatePlaceholders(raw); err != nil {
			return nil, fmt.Errorf("sandbox: %w", err)
		}

		arg := raw
		arg = strings.ReplaceAll(arg, "{worktree}", vars.Worktree)
		arg = strings.ReplaceAll(arg, "{step_id}", vars.StepID)
		argv = append(argv, arg)
	}

	return argv, nil
}

func validatePlaceholders(raw string) error {
	matches := placeholderMatcher.FindAllString(raw, -1)
	for _, match := range matches {
		if _, ok := supportedPlaceholders[match]; !ok {
			return fmt.Errorf("unsupported placeholder %q in arg %q", match, raw)
		}
	}
	return nil
}
