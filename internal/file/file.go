package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDirPerm os.FileMode = 0o750

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned data dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// WithinDir reports whether path resolves to a location under baseDir.
// Symlinks are resolved before comparison; a missing file falls back to a
// lexical check so the guard also works for not-yet-created paths.
func WithinDir(baseDir, path string) bool {
	realBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		realBase = baseDir
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		realPath = filepath.Clean(path)
	}
	absBase, err := filepath.Abs(realBase)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(realPath)
	if err != nil {
		return false
	}
	return absPath == absBase || strings.HasPrefix(absPath, absBase+string(filepath.Separator))
}

// FindSameStem scans the directory of wantPath for a file sharing its stem
// but carrying a different extension. Used when a merge step produced a
// container other than the one that was requested.
func FindSameStem(wantPath string) (string, bool) {
	dir := filepath.Dir(wantPath)
	base := filepath.Base(wantPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == base {
			return wantPath, true
		}
		if strings.TrimSuffix(name, filepath.Ext(name)) == stem {
			return filepath.Join(dir, name), true
		}
	}
	return "", false
}
