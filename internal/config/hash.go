package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFilename is the lock manifest written next to a config file.
const ChecksumFilename = ".checksums"

// ChecksumManifest records the expected hash of each locked file by base name.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// WriteChecksums locks configPath by recording its hash in the directory's
// .checksums manifest.
func WriteChecksums(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(configPath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	}
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	manifest.Hashes[filepath.Base(configPath)] = hash

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checksums: %w", err)
	}
	// Write with restrictive permissions (contains expected hashes)
	if err := os.WriteFile(filepath.Join(dir, ChecksumFilename), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write checksums: %w", err)
	}
	return hash, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	checksumPath := filepath.Join(configDir, ChecksumFilename)

	data, err := os.ReadFile(checksumPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'saya config lock')")
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}

	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}

	return &manifest, nil
}

// verifyIfLocked checks configPath against a sibling .checksums manifest when
// one exists and lists the file.
func verifyIfLocked(configPath string) error {
	dir := filepath.Dir(configPath)
	if _, err := os.Stat(filepath.Join(dir, ChecksumFilename)); os.IsNotExist(err) {
		return nil
	}
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return err
	}
	expected, ok := manifest.Hashes[filepath.Base(configPath)]
	if !ok {
		return nil
	}
	if err := VerifyFileHash(configPath, expected); err != nil {
		return fmt.Errorf("config verification failed: %w\n"+
			"If you edited this file intentionally, run: saya config lock", err)
	}
	return nil
}
