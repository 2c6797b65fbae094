package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRoundtrip(t *testing.T) {
	cfg := New()
	cfg.Stores["default"] = StoreConfig{
		StoreURL:            "multilane+file:///tmp/store",
		ClientID:            "client-1",
		AutolockTimeoutSecs: 300,
	}
	cfg.DefaultStore = "default"

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DefaultStore != "default" {
		t.Errorf("DefaultStore = %q, want default", loaded.DefaultStore)
	}
	store, ok := loaded.Stores["default"]
	if !ok {
		t.Fatal("store 'default' missing after roundtrip")
	}
	if store.StoreURL != "multilane+file:///tmp/store" {
		t.Errorf("StoreURL = %q", store.StoreURL)
	}
	if store.ClientID != "client-1" {
		t.Errorf("ClientID = %q", store.ClientID)
	}
	if store.AutolockTimeoutSecs != 300 {
		t.Errorf("AutolockTimeoutSecs = %d", store.AutolockTimeoutSecs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Stores) != 0 || cfg.DefaultStore != "" {
		t.Error("missing file should yield an empty config")
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", ":\n  - ["},
		{"store without url", "stores:\n  broken:\n    client_id: x\n"},
		{"unknown default", "stores: {}\ndefault_store: nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := New()
	cfg.Stores["a"] = StoreConfig{StoreURL: "multilane+file:///tmp/a"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// No temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after Save")
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := New()
	cfg.DefaultStore = "ghost"

	if err := cfg.Save(filepath.Join(t.TempDir(), "config.yaml")); err == nil {
		t.Error("Save() of invalid config should fail")
	}
}
