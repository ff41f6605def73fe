package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCheckLocalFilesystemAllowsLocal(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystemWith(filepath.Join(t.TempDir(), "saya.lock"), func(string) (string, error) {
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystemRejectsNetwork(t *testing.T) {
	t.Parallel()

	err := checkLocalFilesystemWith(filepath.Join(t.TempDir(), "saya.lock"), func(string) (string, error) {
		return "nfs", nil
	})
	if !errors.Is(err, ErrNetworkFilesystem) {
		t.Fatalf("err = %v, want ErrNetworkFilesystem", err)
	}
}

func TestCheckLocalFilesystemUsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	err := checkLocalFilesystemWith(filepath.Join(root, "run", "deep", "saya.lock"), func(path string) (string, error) {
		inspected = path
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want %q", inspected, root)
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fs   string
		want bool
	}{
		{fs: "nfs", want: true},
		{fs: "SMBFS", want: true},
		{fs: "apfs", want: false},
		{fs: "0x6969", want: false},
	}
	for _, tc := range cases {
		if got := isNetworkFilesystem(tc.fs); got != tc.want {
			t.Errorf("isNetworkFilesystem(%q) = %v, want %v", tc.fs, got, tc.want)
		}
	}
}
