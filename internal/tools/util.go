package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// safeJoin joins root and rel, rejecting any path that escapes root.
func safeJoin(root, rel string) (string, error) {
	full := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes root", rel)
	}
	return full, nil
}
