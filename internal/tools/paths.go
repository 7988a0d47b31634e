package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolvePath joins file against tc's working directory (or the process cwd
// if unset) and rejects any result outside it, mirroring the teacher's
// mcptools.validatePath.
func resolvePath(tc *ToolContext, file string) (string, error) {
	root := "."
	if tc != nil && tc.WorkingDir != "" {
		root = tc.WorkingDir
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid working directory: %w", err)
	}

	var absPath string
	if filepath.IsAbs(file) {
		absPath = file
	} else {
		absPath = filepath.Join(rootAbs, file)
	}
	absPath, err = filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}

	relPath, err := filepath.Rel(rootAbs, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("access denied: %q is outside the working directory", file)
	}
	return absPath, nil
}
