package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeBlake3Hash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	if err := os.WriteFile(path, []byte("modules: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hash))
	}
	if err := VerifyFileHash(path, hash); err != nil {
		t.Errorf("VerifyFileHash() = %v", err)
	}
	if err := VerifyFileHash(path, strings.Repeat("0", 64)); err == nil {
		t.Error("VerifyFileHash() should fail on mismatch")
	}
}

func TestLockedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "modules: [hello]\n")

	hash, err := WriteChecksums(path)
	if err != nil {
		t.Fatalf("WriteChecksums() failed: %v", err)
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if manifest.Hashes["config.yaml"] != hash {
		t.Fatalf("manifest hash = %q, want %q", manifest.Hashes["config.yaml"], hash)
	}

	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked, unchanged config failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("modules: [hello, other]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(path)
	if err == nil || !strings.Contains(err.Error(), "config verification failed") {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "saya config lock") {
		t.Fatalf("expected hint about config lock, got %v", err)
	}
}
