package scheduler

import (
	"strings"

	"github.com/COSD/internal/tasks"
)

// Classifier derives a task type from a task. The policy is replaceable;
// DefaultClassifier is used when none is configured.
type Classifier func(task *tasks.Task) string

// keyword buckets checked in order; first hit wins
var classifierRules = []struct {
	taskType string
	keywords []string
}{
	{"architecture", []string{"architecture", "redesign", "refactor the", "restructure"}},
	{"database", []string{"database", "schema", "migration", "sql", "index"}},
	// documentation outranks typo so "fix typo in readme" lands with the
	// docs work it belongs to
	{"documentation", []string{"document", "readme", "docs", "comment"}},
	{"typo", []string{"typo", "spelling", "misspell"}},
	{"formatting", []string{"format", "whitespace", "indent", "lint"}},
	{"test", []string{"test", "coverage", "flaky"}},
	{"bugfix", []string{"fix", "bug", "crash", "broken", "error"}},
	{"feature", []string{"add", "implement", "support", "create"}},
}

// DefaultClassifier prefers an explicit taskType in metadata, else matches
// keywords in the description. Unmatched tasks are "general".
func DefaultClassifier(task *tasks.Task) string {
	if t := task.Meta("taskType"); t != "" {
		return t
	}

	desc := strings.ToLower(task.Description)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(desc, kw) {
				return rule.taskType
			}
		}
	}
	return "general"
}
