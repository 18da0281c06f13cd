package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal
	// sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidFilename indicates a document filename is unusable.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrInvalidID indicates an identifier fails format checks.
	ErrInvalidID = errors.New("invalid identifier format")

	// ErrInvalidPattern indicates a glob pattern is dangerous.
	ErrInvalidPattern = errors.New("invalid or dangerous pattern")
)

// idPattern matches route and session identifiers: UUIDs plus the
// alphanumeric ids well-behaved clients mint themselves.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// dangerousPatternChars are characters that could cause ReDoS or shell
// injection in patterns.
var dangerousPatternChars = regexp.MustCompile(`[;\|\$\x60\\<>&\(\)\{\}]|\.{3,}|\*{3,}`)

// ValidatePath checks a path for security issues:
//   - No directory traversal (..)
//   - Resolves to an absolute path
//   - Stays within allowedRoot when one is given
//
// Returns the cleaned absolute path or an error.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	cleanPath := filepath.Clean(path)

	// Re-check after cleaning (handles cases like "foo/../..").
	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("%w: resolves to traversal", ErrPathTraversal)
	}

	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		var err error
		absPath, err = filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	}

	if strings.Contains(absPath, "..") {
		return "", fmt.Errorf("%w: absolute path contains traversal", ErrPathTraversal)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}

		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			return "", fmt.Errorf("%w: path outside allowed root", ErrPathTraversal)
		}
		if strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}

// SafeBasename returns the base name of a path after validation. A
// secure replacement for filepath.Base() on untrusted input.
func SafeBasename(path string) (string, error) {
	cleanPath, err := ValidatePath(path, "")
	if err != nil {
		return "", err
	}

	base := filepath.Base(cleanPath)
	if base == "" || base == "." || base == "/" || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: invalid path base", ErrPathTraversal)
	}

	return base, nil
}

// Filename validates a bare uploaded-document name: no separators, no
// traversal, no control characters, not hidden, at most 255 bytes.
// Returns the trimmed name.
func Filename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if len(name) > 255 {
		return "", fmt.Errorf("%w: exceeds 255 bytes", ErrInvalidFilename)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: contains path separator", ErrInvalidFilename)
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: contains traversal", ErrInvalidFilename)
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: hidden files not accepted", ErrInvalidFilename)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: contains control characters", ErrInvalidFilename)
		}
	}
	return name, nil
}

// ValidateID checks a route or session identifier before it reaches
// queries or logs.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidID, fieldName)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %s must be alphanumeric with hyphens or underscores (1-128 chars)", ErrInvalidID, fieldName)
	}
	return nil
}

// ValidateGlobPattern checks a glob pattern for dangerous constructs.
func ValidateGlobPattern(pattern string) error {
	if pattern == "" {
		return nil
	}

	if dangerousPatternChars.MatchString(pattern) {
		return fmt.Errorf("%w: contains dangerous characters", ErrInvalidPattern)
	}
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("%w: contains path traversal", ErrInvalidPattern)
	}

	if _, err := filepath.Match(pattern, "test"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	return nil
}

// ValidateGlobPatterns validates a slice of glob patterns.
func ValidateGlobPatterns(patterns []string) error {
	for i, p := range patterns {
		if err := ValidateGlobPattern(p); err != nil {
			return fmt.Errorf("pattern[%d] %q: %w", i, p, err)
		}
	}
	return nil
}
