// Package security contains path hygiene helpers for handling user-supplied
// project paths and identifiers.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports whether path stays inside root once
// cleaned, absolutized, and with symlinks resolved. Symlink resolution closes
// the classic traversal hole where an in-tree link points outside the root.
func ValidatePathWithinDirectory(path, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}

	canonical := canonicalize(absPath)
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolve root symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, root)
	}
	return nil
}

// canonicalize resolves symlinks in absPath. When the path does not exist
// yet, the nearest existing ancestor is resolved instead, so a link like
// projects/evil -> /etc cannot smuggle a not-yet-created child path through.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	check := absPath
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}

// ValidateProjectPath checks that a sweep's project path stays within the
// configured projects root. An empty root disables confinement.
func ValidateProjectPath(projectPath, projectsRoot string) error {
	if projectsRoot == "" {
		return nil
	}
	if err := ValidatePathWithinDirectory(projectPath, projectsRoot); err != nil {
		return fmt.Errorf("project path %s: %w", projectPath, err)
	}
	return nil
}

// SanitizeFilename derives a safe filename fragment from an arbitrary
// identifier such as a sweep name: only ASCII letters, digits, dot,
// underscore and dash survive, runs of other characters collapse to a single
// underscore, and the result is length-capped.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
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
		return "unknown"
	}
	return out
}
