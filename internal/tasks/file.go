package tasks

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/COSD/internal/coserr"
	"github.com/COSD/internal/persistence"
)

// taskFile is the on-disk YAML shape of one queue
type taskFile struct {
	Tasks []*Task `yaml:"tasks"`
}

// ParseTaskFile reads a queue file. A missing file is an empty queue; a
// malformed file is a structured External failure so the store can keep
// its last good snapshot.
func ParseTaskFile(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coserr.Wrap(coserr.KindExternal, "tasks.ParseTaskFile", err)
	}

	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, coserr.Wrap(coserr.KindExternal, "tasks.ParseTaskFile", err)
	}

	now := time.Now()
	for _, t := range file.Tasks {
		normalize(t, now)
	}
	return file.Tasks, nil
}

// WriteTaskFile writes a queue back to disk atomically. Unknown fields
// survive via Task.Extra, so read, write, read yields the same list.
func WriteTaskFile(path string, list []*Task) error {
	data, err := yaml.Marshal(taskFile{Tasks: list})
	if err != nil {
		return coserr.Wrap(coserr.KindIO, "tasks.WriteTaskFile", err)
	}
	if err := persistence.WriteBytes(path, data); err != nil {
		return err
	}
	return nil
}

// normalize fills defaults for fields a hand-edited file may omit
func normalize(t *Task, now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
}
