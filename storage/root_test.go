package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenRootScaffoldsEveryDirectory(t *testing.T) {
	base := t.TempDir()
	root, err := OpenRoot(filepath.Join(base, "web4"))
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	dirs := []string{
		"sessions", "audit", "r6", "heartbeat",
		filepath.Join("governance", "roles"),
		filepath.Join("governance", "references"),
		filepath.Join("governance", "sessions"),
	}
	for _, d := range dirs {
		info, err := os.Stat(filepath.Join(root.Path, d))
		if err != nil {
			t.Fatalf("expected %s to exist: %v", d, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %s to be a directory", d)
		}
	}
}

func TestAppendJSONLThenReadBack(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "audit", "session-1.jsonl")

	type record struct {
		Index int    `json:"index"`
		Tool  string `json:"tool"`
	}
	for i := 0; i < 3; i++ {
		if err := AppendJSONL(path, record{Index: i, Tool: "Read"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	var got []record
	err := ReadJSONL(path, func(line []byte) error {
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	for i, r := range got {
		if r.Index != i || r.Tool != "Read" {
			t.Fatalf("unexpected record at %d: %+v", i, r)
		}
	}
}

func TestReadJSONLOnMissingFileIsEmptyNotError(t *testing.T) {
	base := t.TempDir()
	seen := 0
	err := ReadJSONL(filepath.Join(base, "missing.jsonl"), func(line []byte) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if seen != 0 {
		t.Fatalf("expected no lines from a missing file")
	}
}

func TestWriteJSONFileThenReadJSONFile(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "governance", "roles", "agent-alpha@reviewer.json")

	type snapshot struct {
		EntityID string `json:"entity_id"`
	}
	want := snapshot{EntityID: "agent-alpha"}
	if err := WriteJSONFile(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got snapshot
	ok, err := ReadJSONFile(path, &got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok {
		t.Fatalf("expected file to exist")
	}
	if got.EntityID != want.EntityID {
		t.Fatalf("unexpected roundtrip: %+v", got)
	}
}

func TestReadJSONFileOnMissingFileReturnsFalse(t *testing.T) {
	base := t.TempDir()
	var out struct{}
	ok, err := ReadJSONFile(filepath.Join(base, "missing.json"), &out)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing file")
	}
}
