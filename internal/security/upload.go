// Package security guards filesystem paths derived from client input.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrPathTraversal is returned when a path resolves outside its directory.
var ErrPathTraversal = errors.New("path escapes upload directory")

const maxFilenameLen = 128

// SanitizeFilename reduces an uploaded filename to its base name made of
// ASCII letters, digits, dot, underscore and dash. Runs of other characters
// become a single underscore.
func SanitizeFilename(s string) string {
	s = filepath.Base(strings.ReplaceAll(s, "\\", "/"))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}

// UploadName returns "<uuid-hex>_<sanitized name>" so that concurrent
// uploads of the same file never collide.
func UploadName(original string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return id + "_" + SanitizeFilename(original)
}

// ResolveUpload joins name onto dir and checks that the result, with
// symlinks in dir resolved, stays inside dir.
func ResolveUpload(dir, name string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve upload dir: %w", err)
	}
	canonicalDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return "", fmt.Errorf("resolve upload dir symlinks: %w", err)
	}

	path := filepath.Join(canonicalDir, name)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	rel, err := filepath.Rel(canonicalDir, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return path, nil
}
