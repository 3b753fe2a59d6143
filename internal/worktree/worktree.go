// Package worktree isolates each agent in its own git worktree so parallel
// agents never trample a shared checkout. All git calls are argv-only.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/COSD/internal/coserr"
)

// Manager creates and removes agent worktrees under a dedicated directory
type Manager struct {
	worktreesDir string
}

// NewManager creates a manager that places worktrees under worktreesDir
func NewManager(worktreesDir string) *Manager {
	return &Manager{worktreesDir: worktreesDir}
}

// Result describes a created worktree
type Result struct {
	WorktreePath string `json:"worktreePath"`
	BranchName   string `json:"branchName"`
	BaseBranch   string `json:"baseBranch"`
}

// BranchName builds the per-agent branch name: cos/<taskId>/<agentId>
func BranchName(taskID, agentID string) string {
	return fmt.Sprintf("cos/%s/%s", slug(taskID), slug(agentID))
}

var slugPattern = regexp.MustCompile(`[^a-z0-9._-]+`)

// slug sanitizes an identifier for use in a git ref
func slug(s string) string {
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")
	if s == "" {
		s = "x"
	}
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-.")
	}
	return s
}

// run executes a git command in dir and returns trimmed combined output
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// Create makes a worktree for an agent on a fresh branch off baseBranch.
// baseBranch resolution: explicit value, else a detected main/master, else
// the current HEAD. origin/<base> is preferred when it exists so the agent
// starts from the latest pushed state.
func (m *Manager) Create(agentID, sourceRepo, taskID, baseBranch string) (*Result, error) {
	if _, err := os.Stat(filepath.Join(sourceRepo, ".git")); err != nil {
		return nil, coserr.New(coserr.KindExternal, "worktree.Create", "%s is not a git repository", sourceRepo)
	}
	if err := os.MkdirAll(m.worktreesDir, 0755); err != nil {
		return nil, coserr.Wrap(coserr.KindIO, "worktree.Create", err)
	}

	// Fetch is best-effort; offline agents still get a worktree
	if _, err := run(sourceRepo, "fetch", "--prune"); err != nil {
		fmt.Fprintf(os.Stderr, "worktree: fetch failed, using local refs: %v\n", err)
	}

	base := baseBranch
	if base == "" {
		base = detectBase(sourceRepo)
	}

	startPoint := base
	if refExists(sourceRepo, "refs/remotes/origin/"+base) {
		startPoint = "origin/" + base
	}

	branch := BranchName(taskID, agentID)
	path := filepath.Join(m.worktreesDir, agentID)

	if _, err := run(sourceRepo, "worktree", "add", "-b", branch, path, startPoint); err != nil {
		return nil, coserr.Wrap(coserr.KindExternal, "worktree.Create", err)
	}

	return &Result{
		WorktreePath: path,
		BranchName:   branch,
		BaseBranch:   base,
	}, nil
}

// detectBase picks main or master when present, else the current HEAD name
func detectBase(sourceRepo string) string {
	for _, candidate := range []string{"main", "master"} {
		if refExists(sourceRepo, "refs/heads/"+candidate) ||
			refExists(sourceRepo, "refs/remotes/origin/"+candidate) {
			return candidate
		}
	}
	if head, err := run(sourceRepo, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && head != "HEAD" {
		return head
	}
	return "HEAD"
}

func refExists(sourceRepo, ref string) bool {
	_, err := run(sourceRepo, "show-ref", "--verify", "--quiet", ref)
	return err == nil
}

// Remove tears down an agent's worktree. When merge is true the base branch
// is fast-forwarded to the agent branch first; a non-ff state is reported
// but removal still proceeds.
func (m *Manager) Remove(agentID, sourceRepo, branchName string, merge bool) error {
	path := filepath.Join(m.worktreesDir, agentID)

	var mergeErr error
	if merge && branchName != "" {
		mergeErr = m.fastForward(sourceRepo, branchName)
	}

	if _, err := run(sourceRepo, "worktree", "remove", "--force", path); err != nil {
		// The worktree may already be gone; try to clear stale metadata
		run(sourceRepo, "worktree", "prune")
		if _, statErr := os.Stat(path); statErr == nil {
			return coserr.Wrap(coserr.KindExternal, "worktree.Remove", err)
		}
	}

	if branchName != "" {
		if _, err := run(sourceRepo, "branch", "-D", branchName); err != nil {
			return coserr.Wrap(coserr.KindExternal, "worktree.Remove", err)
		}
	}

	if mergeErr != nil {
		return coserr.Wrap(coserr.KindExternal, "worktree.Remove", mergeErr)
	}
	return nil
}

// fastForward advances the current branch of sourceRepo to branchName
// without creating a merge commit
func (m *Manager) fastForward(sourceRepo, branchName string) error {
	if dirty, err := run(sourceRepo, "status", "--porcelain"); err != nil || dirty != "" {
		return fmt.Errorf("source repo has uncommitted changes, skipping merge of %s", branchName)
	}
	if _, err := run(sourceRepo, "merge", "--ff-only", branchName); err != nil {
		return err
	}
	return nil
}

// CleanupOrphans removes every managed worktree whose agent is no longer
// active. Returns the agent ids that were cleaned up.
func (m *Manager) CleanupOrphans(sourceRepo string, activeAgentIDs []string) ([]string, error) {
	entries, err := os.ReadDir(m.worktreesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coserr.Wrap(coserr.KindIO, "worktree.CleanupOrphans", err)
	}

	active := make(map[string]bool, len(activeAgentIDs))
	for _, id := range activeAgentIDs {
		active[id] = true
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() || active[entry.Name()] {
			continue
		}
		agentID := entry.Name()
		path := filepath.Join(m.worktreesDir, agentID)
		if _, err := run(sourceRepo, "worktree", "remove", "--force", path); err != nil {
			os.RemoveAll(path)
		}
		removed = append(removed, agentID)
	}
	if len(removed) > 0 {
		run(sourceRepo, "worktree", "prune")
	}
	return removed, nil
}
