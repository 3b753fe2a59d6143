package persistence

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "record.json")

	in := record{Name: "cos", Count: 7}
	if err := WriteJSON(path, in); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out record
	ReadJSON(path, &out)
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestWriteIsPrettyPrinted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	if err := WriteJSON(path, record{Name: "x"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\n  \"name\"") {
		t.Errorf("expected 2-space indent, got:\n%s", data)
	}
}

func TestReadMissingFileUsesDefaults(t *testing.T) {
	out := record{Name: "default", Count: 42}
	ReadJSON(filepath.Join(t.TempDir(), "nope.json"), &out)
	if out.Name != "default" || out.Count != 42 {
		t.Errorf("defaults clobbered: %+v", out)
	}
}

func TestReadCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	out := record{Name: "default"}
	ReadJSON(path, &out)
	if out.Name != "default" {
		t.Errorf("corrupt file should leave defaults, got %+v", out)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	for i := 0; i < 5; i++ {
		if err := WriteJSON(path, record{Count: i}); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestAppendJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	for i := 0; i < 3; i++ {
		if err := AppendJSONL(path, record{Count: i}); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		if r.Count != lines {
			t.Errorf("line %d: got count %d", lines, r.Count)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}
}
