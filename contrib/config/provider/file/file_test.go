package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsFileAndInfersFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("addr: :8080\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewSource(path)
	kvs, err := src.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(kvs) != 1 {
		t.Fatalf("Load returned %d entries, want 1", len(kvs))
	}
	if kvs[0].Format != "yaml" {
		t.Fatalf("Format = %q, want yaml", kvs[0].Format)
	}
	if string(kvs[0].Value) != "addr: :8080\n" {
		t.Fatalf("Value = %q, want file contents", kvs[0].Value)
	}
}

func TestLoadDefaultsToJSONFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewSource(path)
	kvs, err := src.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if kvs[0].Format != "json" {
		t.Fatalf("Format = %q, want json default", kvs[0].Format)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	src := NewSource(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := src.Load(); err == nil {
		t.Fatalf("expected an error loading a nonexistent file")
	}
}

func TestWatchNotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("v: 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewSource(path)
	w, err := src.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	results := make(chan error, 1)
	go func() {
		_, err := w.Next()
		results <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case err := <-results:
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Next did not observe the file write")
	}
}
