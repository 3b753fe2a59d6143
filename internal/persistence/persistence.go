// Package persistence provides atomic JSON file storage for all CoS state.
// Every write goes through a sibling temp file and a rename so readers never
// observe a torn file. Callers serialize writes per logical file.
package persistence

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/COSD/internal/coserr"
)

// EnsureDir creates a directory and its parents if missing
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.EnsureDir", err)
	}
	return nil
}

// ReadJSON loads path into out. A missing or unparseable file leaves out at
// its zero/default value and is never surfaced as an error: parse failures
// are logged and the caller proceeds with defaults.
func ReadJSON(path string, out interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[PERSIST] Read %s failed: %v (using defaults)", path, err)
		}
		return
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("[PERSIST] Parse %s failed: %v (using defaults)", path, err)
	}
}

// WriteJSON writes v to path atomically as pretty-printed JSON.
// The write is retried once on failure before surfacing an IO error.
func WriteJSON(path string, v interface{}) error {
	err := writeJSONOnce(path, v)
	if err != nil {
		log.Printf("[PERSIST] Write %s failed, retrying: %v", path, err)
		err = writeJSONOnce(path, v)
	}
	if err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.WriteJSON", err)
	}
	return nil
}

func writeJSONOnce(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return writeBytesOnce(path, append(data, '\n'))
}

// WriteBytes writes raw bytes to path atomically with the same temp+rename
// discipline as WriteJSON. Used for non-JSON state such as task queue files.
func WriteBytes(path string, data []byte) error {
	err := writeBytesOnce(path, data)
	if err != nil {
		log.Printf("[PERSIST] Write %s failed, retrying: %v", path, err)
		err = writeBytesOnce(path, data)
	}
	if err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.WriteBytes", err)
	}
	return nil
}

func writeBytesOnce(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// AppendJSONL appends one record to an append-only JSON-lines log
func AppendJSONL(path string, record interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.AppendJSONL", err)
	}

	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.AppendJSONL", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return coserr.Wrap(coserr.KindIO, "persistence.AppendJSONL", err)
	}
	return nil
}
