package tasks

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseTaskFileMissing(t *testing.T) {
	list, err := ParseTaskFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should be empty queue, got error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d tasks", len(list))
	}
}

func TestParseTaskFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	if err := os.WriteFile(path, []byte("tasks: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseTaskFile(path); err == nil {
		t.Error("expected parse error for malformed YAML")
	}
}

func TestParseTaskFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := `tasks:
  - id: t1
    description: Fix typo in readme
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := ParseTaskFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 task, got %d", len(list))
	}
	if list[0].Status != StatusPending {
		t.Errorf("status should default to pending, got %s", list[0].Status)
	}
	if list[0].Priority != PriorityMedium {
		t.Errorf("priority should default to MEDIUM, got %s", list[0].Priority)
	}
	if list[0].CreatedAt.IsZero() {
		t.Error("createdAt should be filled on parse")
	}
}

func TestRoundTripPreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := `tasks:
  - id: t1
    description: Migrate billing schema
    status: pending
    priority: HIGH
    metadata:
      app: billing
      taskType: database
    customField: keep-me
    anotherExtra: 42
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	first, err := ParseTaskFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].Extra["customField"] != "keep-me" {
		t.Fatalf("unknown field not captured: %+v", first[0].Extra)
	}

	if err := WriteTaskFile(path, first); err != nil {
		t.Fatalf("WriteTaskFile: %v", err)
	}
	second, err := ParseTaskFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed the list:\nfirst:  %+v\nsecond: %+v", first[0], second[0])
	}
	if second[0].Extra["customField"] != "keep-me" {
		t.Error("unknown field lost on write")
	}
}

func TestMetaCoercesValues(t *testing.T) {
	task := &Task{Metadata: map[string]interface{}{
		"app":          "billing",
		"autoApproved": true,
	}}
	if task.Meta("app") != "billing" {
		t.Errorf("string metadata: got %q", task.Meta("app"))
	}
	if task.Meta("autoApproved") != "true" {
		t.Errorf("bool metadata should coerce: got %q", task.Meta("autoApproved"))
	}
	if task.Meta("missing") != "" {
		t.Error("missing metadata should be empty string")
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() <= PriorityHigh.Rank() {
		t.Error("CRITICAL should outrank HIGH")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("HIGH should outrank MEDIUM")
	}
	if Priority("bogus").Rank() != PriorityMedium.Rank() {
		t.Error("unknown priority should rank as MEDIUM")
	}
}
