package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/COSD/internal/coserr"
)

// initRepo creates a git repository with one commit on main
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@localhost",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@localhost",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}

	git("init", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	git("add", ".")
	git("commit", "-m", "initial commit")
	return dir
}

func TestBranchName(t *testing.T) {
	got := BranchName("Fix Bug #42!", "agent-0001")
	want := "cos/fix-bug-42/agent-0001"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Degenerate ids still produce a valid ref
	if got := BranchName("///", "!!!"); got != "cos/x/x" {
		t.Errorf("degenerate ids: got %q", got)
	}
}

func TestCreateAndRemove(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(filepath.Join(t.TempDir(), "worktrees"))

	res, err := m.Create("agent-1", repo, "t1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.BaseBranch != "main" {
		t.Errorf("base branch: got %s, want main", res.BaseBranch)
	}
	if res.BranchName != "cos/t1/agent-1" {
		t.Errorf("branch name: got %s", res.BranchName)
	}
	if _, err := os.Stat(filepath.Join(res.WorktreePath, "README.md")); err != nil {
		t.Errorf("worktree missing checkout: %v", err)
	}

	if err := m.Remove("agent-1", repo, res.BranchName, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(res.WorktreePath); !os.IsNotExist(err) {
		t.Error("worktree directory still present after Remove")
	}
}

func TestRemoveWithMerge(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(filepath.Join(t.TempDir(), "worktrees"))

	res, err := m.Create("agent-1", repo, "t1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Commit inside the worktree, then merge back on removal
	if err := os.WriteFile(filepath.Join(res.WorktreePath, "work.txt"), []byte("done\n"), 0644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "agent work"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = res.WorktreePath
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@localhost",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@localhost",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}

	if err := m.Remove("agent-1", repo, res.BranchName, true); err != nil {
		t.Fatalf("Remove with merge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo, "work.txt")); err != nil {
		t.Error("agent commit not fast-forwarded into source repo")
	}
}

func TestCreateOnMissingRepo(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "worktrees"))
	_, err := m.Create("agent-1", t.TempDir(), "t1", "")
	if !coserr.Is(err, coserr.KindExternal) {
		t.Errorf("expected external failure for non-repo, got %v", err)
	}
}

func TestCleanupOrphans(t *testing.T) {
	repo := initRepo(t)
	m := NewManager(filepath.Join(t.TempDir(), "worktrees"))

	a, err := m.Create("agent-a", repo, "t1", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Create("agent-b", repo, "t2", "")
	if err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupOrphans(repo, []string{"agent-a"})
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if len(removed) != 1 || removed[0] != "agent-b" {
		t.Errorf("removed %v, want [agent-b]", removed)
	}
	if _, err := os.Stat(a.WorktreePath); err != nil {
		t.Error("active agent's worktree was removed")
	}
	if _, err := os.Stat(b.WorktreePath); !os.IsNotExist(err) {
		t.Error("orphan worktree still present")
	}
}
