// Package config loads and persists the mutable daemon configuration from
// config.json in the data root. Unknown or missing options keep defaults.
package config

import (
	"path/filepath"
	"time"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/persistence"
)

// Config is the mutable runtime configuration
type Config struct {
	EvaluationIntervalMs  int      `json:"evaluationIntervalMs"`
	HealthCheckIntervalMs int      `json:"healthCheckIntervalMs"`
	MaxConcurrentAgents   int      `json:"maxConcurrentAgents"`
	MaxProcessMemoryMb    int      `json:"maxProcessMemoryMb"`
	AutoStart             bool     `json:"autoStart"`
	UserTasksPath         string   `json:"userTasksPath"`
	InternalTasksPath     string   `json:"internalTasksPath"`
	DefaultAgentCommand   []string `json:"defaultAgentCommand"`
	GracefulTerminateMs   int      `json:"gracefulTerminateMs"`
	ShutdownDrainMs       int      `json:"shutdownDrainMs"`
	OutputBufferBytes     int      `json:"outputBufferBytes"`
	AppCooldownMs         int      `json:"appCooldownMs"`
	WorkspacePath         string   `json:"workspacePath,omitempty"`
	UseWorktrees          bool     `json:"useWorktrees"`
	WebhookURL            string   `json:"webhookUrl,omitempty"`
	HTTPAddr              string   `json:"httpAddr"`
	NATSPort              int      `json:"natsPort"`
}

// Default returns the configuration used when config.json is absent
func Default() *Config {
	return &Config{
		EvaluationIntervalMs:  60_000,
		HealthCheckIntervalMs: 900_000,
		MaxConcurrentAgents:   3,
		MaxProcessMemoryMb:    2048,
		AutoStart:             true,
		UserTasksPath:         "tasks-user.yaml",
		InternalTasksPath:     "tasks-internal.yaml",
		DefaultAgentCommand:   []string{"claude", "--print", "--prompt-file", "{promptPath}", "--model", "{model}"},
		GracefulTerminateMs:   10_000,
		ShutdownDrainMs:       30_000,
		OutputBufferBytes:     262_144,
		AppCooldownMs:         300_000,
		UseWorktrees:          false,
		HTTPAddr:              "127.0.0.1:8422",
		NATSPort:              4322,
	}
}

// Load reads config.json over the defaults
func Load(path string) *Config {
	cfg := Default()
	persistence.ReadJSON(path, cfg)
	cfg.Clamp()
	return cfg
}

// Save writes the configuration back to disk
func (c *Config) Save(path string) error {
	if err := persistence.WriteJSON(path, c); err != nil {
		return coserr.Wrap(coserr.KindIO, "config.Save", err)
	}
	return nil
}

// Clamp repairs option values a hand-edited file or API update may have broken
func (c *Config) Clamp() {
	if c.EvaluationIntervalMs <= 0 {
		c.EvaluationIntervalMs = 60_000
	}
	if c.HealthCheckIntervalMs <= 0 {
		c.HealthCheckIntervalMs = 900_000
	}
	// 0 is a valid cap meaning "never spawn"; only negatives are repaired
	if c.MaxConcurrentAgents < 0 {
		c.MaxConcurrentAgents = 0
	}
	if c.MaxProcessMemoryMb <= 0 {
		c.MaxProcessMemoryMb = 2048
	}
	if c.GracefulTerminateMs <= 0 {
		c.GracefulTerminateMs = 10_000
	}
	if c.ShutdownDrainMs <= 0 {
		c.ShutdownDrainMs = 30_000
	}
	if c.OutputBufferBytes <= 0 {
		c.OutputBufferBytes = 262_144
	}
	if c.AppCooldownMs <= 0 {
		c.AppCooldownMs = 300_000
	}
}

// Durations derived from the millisecond options

func (c *Config) EvaluationInterval() time.Duration {
	return time.Duration(c.EvaluationIntervalMs) * time.Millisecond
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

func (c *Config) GracefulTerminate() time.Duration {
	return time.Duration(c.GracefulTerminateMs) * time.Millisecond
}

func (c *Config) ShutdownDrain() time.Duration {
	return time.Duration(c.ShutdownDrainMs) * time.Millisecond
}

func (c *Config) AppCooldown() time.Duration {
	return time.Duration(c.AppCooldownMs) * time.Millisecond
}

// Paths locates the persisted state files under one data root
type Paths struct {
	Root string
}

func (p Paths) Config() string       { return filepath.Join(p.Root, "config.json") }
func (p Paths) AgentsDir() string    { return filepath.Join(p.Root, "agents") }
func (p Paths) WorktreesDir() string { return filepath.Join(p.Root, "worktrees") }
func (p Paths) Learning() string     { return filepath.Join(p.Root, "learning.json") }
func (p Paths) Productivity() string { return filepath.Join(p.Root, "productivity.json") }
func (p Paths) AppActivity() string  { return filepath.Join(p.Root, "app-activity.json") }
func (p Paths) EventJournal() string { return filepath.Join(p.Root, "events.db") }
func (p Paths) PIDFile() string      { return filepath.Join(p.Root, "cosd.pid") }
func (p Paths) PromptsDir() string   { return filepath.Join(p.Root, "prompts") }

// ResolveTaskPaths anchors relative task file paths at the data root
func (c *Config) ResolveTaskPaths(root string) (user, internal string) {
	user = c.UserTasksPath
	internal = c.InternalTasksPath
	if !filepath.IsAbs(user) {
		user = filepath.Join(root, user)
	}
	if !filepath.IsAbs(internal) {
		internal = filepath.Join(root, internal)
	}
	return
}
