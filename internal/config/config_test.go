package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "peillute.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseFull(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
node: paris
logging:
  level: debug
  console: true
storage:
  path: /tmp/test.db
  busy_timeout: 2s
refresh:
  users: 1s
  transactions: 5s
maintenance:
  enabled: true
  schedule: "@every 6h"
  keep: 720h
`)
	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Node != "paris" {
		t.Fatalf("Node = %q", cfg.Node)
	}
	if cfg.UsersInterval() != time.Second {
		t.Fatalf("UsersInterval = %v, want 1s", cfg.UsersInterval())
	}
	// Unset fields fall back to documented defaults.
	if cfg.BalanceInterval() != DefaultBalanceInterval {
		t.Fatalf("BalanceInterval = %v, want default", cfg.BalanceInterval())
	}
	if cfg.TransactionsInterval() != 5*time.Second {
		t.Fatalf("TransactionsInterval = %v, want 5s", cfg.TransactionsInterval())
	}
	if cfg.StatusInterval() != DefaultStatusInterval {
		t.Fatalf("StatusInterval = %v, want default", cfg.StatusInterval())
	}
	if cfg.MaintenanceKeep() != 720*time.Hour {
		t.Fatalf("MaintenanceKeep = %v, want 720h", cfg.MaintenanceKeep())
	}
}

func TestParseEmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "./peillute.db" {
		t.Fatalf("Storage.Path = %q, want default", cfg.Storage.Path)
	}
	if cfg.UsersInterval() != DefaultUsersInterval {
		t.Fatalf("UsersInterval = %v, want default 2s", cfg.UsersInterval())
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Parse(writeConfig(t, "refresh:\n  userz: 1s\n"))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"not a duration", "refresh:\n  users: soon\n"},
		{"negative", "refresh:\n  balance: -3s\n"},
		{"bad busy timeout", "storage:\n  path: /tmp/x.db\n  busy_timeout: never\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(writeConfig(t, tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseRejectsMissingStoragePath(t *testing.T) {
	t.Parallel()
	_, err := Parse(writeConfig(t, "storage:\n  path: \"\"\n"))
	if err == nil {
		t.Fatal("expected error for empty storage.path")
	}
}
