//go:build !darwin && !linux

package lock

// Unknown platforms are treated as local.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
