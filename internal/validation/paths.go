package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("unsafe path")

const maxPathLength = 4096

// PathValidator checks filesystem paths taken from configuration and flags.
type PathValidator struct {
	// AllowedBaseDirs restricts paths to these directories; empty allows all.
	AllowedBaseDirs []string
	// AllowRelativePaths keeps relative paths relative instead of resolving
	// them against the working directory.
	AllowRelativePaths bool
}

// NewPathValidator restricts paths to the storyfeed data and config
// directories and the temp dir.
func NewPathValidator() *PathValidator {
	homeDir, _ := os.UserHomeDir()
	return &PathValidator{
		AllowedBaseDirs: []string{
			filepath.Join(homeDir, ".storyfeed"),
			filepath.Join(homeDir, ".config", "storyfeed"),
			os.TempDir(),
		},
	}
}

// NewPermissivePathValidator accepts any safe path.
func NewPermissivePathValidator() *PathValidator {
	return &PathValidator{AllowRelativePaths: true}
}

// Clean expands a leading "~/", rejects traversal and control characters and
// returns the cleaned path.
func (v *PathValidator) Clean(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsafePath)
	}
	if !IsPathSafe(path) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}
	for _, r := range path {
		if r < 32 && r != '\t' {
			return "", fmt.Errorf("%w: control characters", ErrUnsafePath)
		}
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	} else if strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("%w: invalid tilde usage", ErrUnsafePath)
	}

	if !v.AllowRelativePaths && !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("cannot make path absolute: %w", err)
		}
		path = abs
	}
	path = filepath.Clean(path)

	if err := v.checkBaseDirs(path); err != nil {
		return "", err
	}
	return path, nil
}

func (v *PathValidator) checkBaseDirs(path string) error {
	if len(v.AllowedBaseDirs) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	for _, base := range v.AllowedBaseDirs {
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBase, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: not within %v", ErrUnsafePath, v.AllowedBaseDirs)
}

// File validates a file path and makes sure it does not name a directory.
func (v *PathValidator) File(path string) (string, error) {
	cleaned, err := v.Clean(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(cleaned); err == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", cleaned)
	}
	return cleaned, nil
}

// Directory validates a directory path, creating it when create is set.
func (v *PathValidator) Directory(path string, create bool) (string, error) {
	cleaned, err := v.Clean(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(cleaned)
	switch {
	case os.IsNotExist(err):
		if create {
			if mkErr := os.MkdirAll(cleaned, 0o755); mkErr != nil {
				return "", fmt.Errorf("failed to create directory: %w", mkErr)
			}
		}
	case err != nil:
		return "", fmt.Errorf("checking directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("path exists but is not a directory: %s", cleaned)
	}
	return cleaned, nil
}

// DataDir is ~/.storyfeed.
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".storyfeed")
}

// ConfigDir is ~/.config/storyfeed.
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "storyfeed")
}

// DBPath returns the validated database path, defaulting to the data dir.
func (v *PathValidator) DBPath(userPath string) (string, error) {
	if userPath == "" {
		userPath = filepath.Join(DataDir(), "storyfeed.db")
	}
	return v.File(userPath)
}

// ConfigPath returns the validated config file path.
func (v *PathValidator) ConfigPath(userPath string) (string, error) {
	if userPath == "" {
		userPath = filepath.Join(ConfigDir(), "config.toml")
	}
	return v.File(userPath)
}

// IndexPath returns the validated search index path. Bleve indexes are
// directories.
func (v *PathValidator) IndexPath(userPath string) (string, error) {
	if userPath == "" {
		userPath = filepath.Join(DataDir(), "index.bleve")
	}
	return v.Directory(userPath, false)
}

// IsPathSafe performs a quick safety check on a path without full validation
func IsPathSafe(path string) bool {
	if strings.Contains(path, "\x00") {
		return false
	}
	if strings.Contains(path, "../") || strings.Contains(path, "..\\") || strings.HasSuffix(path, "/..") || path == ".." {
		return false
	}
	return len(path) <= maxPathLength
}
