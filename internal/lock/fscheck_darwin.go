//go:build darwin

package lock

import (
	"fmt"
	"syscall"
)

func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	out := make([]byte, 0, len(stat.Fstypename))
	for _, b := range stat.Fstypename {
		if b == 0 {
			break
		}
		out = append(out, byte(b))
	}
	return string(out), nil
}
