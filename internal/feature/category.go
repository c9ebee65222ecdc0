package feature

import (
	"strings"

	"github.com/proctriage/proctriage/internal/collector"
)

// Category is one of the closed categorization buckets (spec §4.2).
type Category string

const (
	CategoryTestRunner   Category = "test-runner"
	CategoryDevServer    Category = "dev-server"
	CategoryAgentShell   Category = "agent-shell"
	CategoryEditor       Category = "editor"
	CategorySystemService Category = "system-service"
	CategoryOther        Category = "other"
)

// testRunnerCommands, devServerCommands, … are small decision tables by
// command heuristic, independent of signature matching (spec §4.2
// "Categorization").
var (
	testRunnerCommands = []string{"jest", "pytest", "go test", "mocha", "rspec", "cargo test"}
	devServerCommands  = []string{"webpack-dev-server", "next dev", "vite", "rails server", "flask run"}
	agentShellCommands = []string{"claude", "aider", "copilot", "codex"}
	editorCommands     = []string{"vim", "nvim", "emacs", "code", "subl"}
)

// Categorize buckets a process by command heuristics and cwd class (spec
// §4.2). It never consults signatures; category feeds category-
// conditional priors independently of any signature match.
func Categorize(comm string, argv []string, cwdKind collector.CwdKind) Category {
	joined := strings.ToLower(strings.Join(append([]string{comm}, argv...), " "))

	if matchesAny(joined, testRunnerCommands) {
		return CategoryTestRunner
	}
	if matchesAny(joined, devServerCommands) {
		return CategoryDevServer
	}
	if matchesAny(joined, agentShellCommands) {
		return CategoryAgentShell
	}
	if matchesAny(joined, editorCommands) {
		return CategoryEditor
	}
	if cwdKind == collector.CwdSystem {
		return CategorySystemService
	}
	return CategoryOther
}

func matchesAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
