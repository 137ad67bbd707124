package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work", MaxAutoAcceptBytes: 1024, DarkMode: true}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.MaxAutoAcceptSize() != 1024 {
		t.Errorf("MaxAutoAcceptSize = %d, want 1024", loaded.MaxAutoAcceptSize())
	}
	if !loaded.DarkModeEnabled() {
		t.Error("DarkModeEnabled = false, want true")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "default_profile: phone\ntransfer_refresh_ms: 250\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProfile != "phone" {
		t.Errorf("DefaultProfile = %q, want phone", cfg.DefaultProfile)
	}
	if cfg.TransferRefreshPeriod() != 250*time.Millisecond {
		t.Errorf("TransferRefreshPeriod = %v, want 250ms", cfg.TransferRefreshPeriod())
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`default_profile = "main"`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TransferRefreshPeriod() != 500*time.Millisecond {
		t.Errorf("TransferRefreshPeriod = %v, want 500ms", cfg.TransferRefreshPeriod())
	}
	if cfg.HistoryPageSize != DefaultHistoryPageSize {
		t.Errorf("HistoryPageSize = %d, want %d", cfg.HistoryPageSize, DefaultHistoryPageSize)
	}
	if cfg.MaxAutoAcceptSize() != DefaultMaxAutoAcceptBytes {
		t.Errorf("MaxAutoAcceptSize = %d, want %d", cfg.MaxAutoAcceptSize(), DefaultMaxAutoAcceptBytes)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
