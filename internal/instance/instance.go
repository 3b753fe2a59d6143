// Package instance enforces single-daemon operation through a JSON PID file
// in the data root.
package instance

import (
	"encoding/json"
	"os"
	"time"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/procmon"
)

// Manager owns the PID file for one daemon instance
type Manager struct {
	path string
}

// Info is the JSON structure of the PID file
type Info struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	DataRoot  string    `json:"data_root"`
	Hostname  string    `json:"hostname"`
}

// NewManager creates a manager for the PID file at path
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Acquire claims the PID file for this process. A live previous instance is
// a Conflict; a stale file from a dead process is removed and reclaimed.
func (m *Manager) Acquire(addr, dataRoot string) error {
	if existing, err := m.Read(); err == nil {
		if existing.PID > 0 && procmon.Alive(existing.PID) {
			return coserr.New(coserr.KindConflict, "instance.Acquire",
				"another instance is running (pid %d, started %s)", existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
		// Stale file from a crashed run
		m.Release()
	}

	hostname, _ := os.Hostname()
	info := Info{
		PID:       os.Getpid(),
		Addr:      addr,
		StartedAt: time.Now(),
		DataRoot:  dataRoot,
		Hostname:  hostname,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return coserr.Wrap(coserr.KindInternal, "instance.Acquire", err)
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return coserr.Wrap(coserr.KindIO, "instance.Acquire", err)
	}
	return nil
}

// Read parses the PID file
func (m *Manager) Read() (*Info, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coserr.New(coserr.KindNotFound, "instance.Read", "no PID file at %s", m.path)
		}
		return nil, coserr.Wrap(coserr.KindIO, "instance.Read", err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, coserr.Wrap(coserr.KindExternal, "instance.Read", err)
	}
	return &info, nil
}

// Release removes the PID file
func (m *Manager) Release() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return coserr.Wrap(coserr.KindIO, "instance.Release", err)
	}
	return nil
}
