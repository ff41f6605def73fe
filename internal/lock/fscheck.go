package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned when the lock file would live on a network
// filesystem, where flock(2) does not exclude other hosts.
var ErrNetworkFilesystem = errors.New("lock path is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

func checkLocalFilesystem(path string) error {
	return checkLocalFilesystemWith(path, detectFilesystemType)
}

func checkLocalFilesystemWith(path string, detector func(string) (string, error)) error {
	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve lock path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	if isNetworkFilesystem(fsType) {
		return fmt.Errorf("%w: %q is on %q; set lock.path to a local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
