// Package filex contains file system helpers used by the admin CLI.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteExport writes data to dir/name, creating dir if needed. The directory
// and the file are private to the owner.
func WriteExport(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	return path, nil
}
