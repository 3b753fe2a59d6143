package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "config.json"))
	if cfg.MaxConcurrentAgents != 3 {
		t.Errorf("maxConcurrentAgents default: got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.EvaluationInterval() != time.Minute {
		t.Errorf("evaluation interval default: got %v", cfg.EvaluationInterval())
	}
	if cfg.OutputBufferBytes != 262_144 {
		t.Errorf("output buffer default: got %d", cfg.OutputBufferBytes)
	}
}

func TestLoadPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"maxConcurrentAgents": 5, "autoStart": false}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.MaxConcurrentAgents != 5 {
		t.Errorf("override not applied: %d", cfg.MaxConcurrentAgents)
	}
	if cfg.AutoStart {
		t.Error("autoStart override not applied")
	}
	// Untouched options keep defaults
	if cfg.GracefulTerminate() != 10*time.Second {
		t.Errorf("graceful terminate default lost: %v", cfg.GracefulTerminate())
	}
}

func TestClampRepairsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"maxConcurrentAgents": -2, "evaluationIntervalMs": 0}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.MaxConcurrentAgents != 0 {
		t.Errorf("negative cap should clamp to 0, got %d", cfg.MaxConcurrentAgents)
	}
	if cfg.EvaluationIntervalMs != 60_000 {
		t.Errorf("zero interval should clamp to default, got %d", cfg.EvaluationIntervalMs)
	}
}

func TestLoadKeepsZeroConcurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"maxConcurrentAgents": 0}`), 0644); err != nil {
		t.Fatal(err)
	}

	// 0 means "never spawn" and must survive the clamp
	if cfg := Load(path); cfg.MaxConcurrentAgents != 0 {
		t.Errorf("zero cap rewritten to %d", cfg.MaxConcurrentAgents)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.MaxConcurrentAgents = 7
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := Load(path)
	if reloaded.MaxConcurrentAgents != 7 {
		t.Errorf("round trip lost value: %d", reloaded.MaxConcurrentAgents)
	}
}

func TestResolveTaskPaths(t *testing.T) {
	cfg := Default()
	cfg.UserTasksPath = "user.yaml"
	cfg.InternalTasksPath = "/abs/internal.yaml"

	user, internal := cfg.ResolveTaskPaths("/data")
	if user != filepath.Join("/data", "user.yaml") {
		t.Errorf("relative path not anchored: %s", user)
	}
	if internal != "/abs/internal.yaml" {
		t.Errorf("absolute path should pass through: %s", internal)
	}
}
