package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"mcpServers":{"a":{"command":"a"}}}`), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, nil)

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(path, []byte(`{"mcpServers":{"a":{"command":"a"},"b":{"command":"b"}}}`), 0o644)

	select {
	case cfg := <-reloaded:
		if len(cfg.Servers) != 2 {
			t.Errorf("expected 2 servers after reload, got %d", len(cfg.Servers))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config rewrite")
	}
}

func TestWatch_ParseFailureReported(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	errs := make(chan error, 4)
	go Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, func(err error) { errs <- err })

	time.Sleep(100 * time.Millisecond)

	os.WriteFile(path, []byte(`{broken`), 0o644)

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a parse error")
		}
	case cfg := <-reloaded:
		t.Fatalf("broken config should not reload, got %+v", cfg)
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported for broken config")
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.json")
	os.WriteFile(path, []byte(`{"mcpServers":{"a":{"command":"a"}}}`), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go Watch(ctx, path, func(cfg *Config) { reloaded <- cfg }, nil)

	time.Sleep(100 * time.Millisecond)

	os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644)

	select {
	case <-reloaded:
		t.Fatal("sibling file change must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
