// Package sanitize provides identifier sanitization for vector store
// collection names and input cleanup for user-supplied text and paths.
//
// Collection names in vector stores (Qdrant, chromem) must match:
// ^[a-z0-9_]{1,64}$. This package ensures all identifiers conform.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for collection name
	// components. Qdrant and chromem require 1-64 characters.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the hash suffix added to
	// truncated identifiers. Format: _<8-char-hash> = 9 characters.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty
	// result.
	DefaultIdentifier = "default"
)

// Identifier sanitizes a string for use in collection names.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces invalid characters with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxIdentifierLength with hash suffix if too long
//   - Returns DefaultIdentifier if result would be empty
//
// Examples:
//
//	"My Project!"  -> "my_project"
//	"" or "!!!"    -> "default"
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}

	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a string to fit within
// MaxIdentifierLength, appending a hash suffix to preserve uniqueness.
//
// Format: <truncated>_<8-char-hash>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxIdentifierLength - HashSuffixLength
	truncated := s[:maxBase]
	truncated = strings.TrimRight(truncated, "_")

	return truncated + hashSuffix
}

// CollectionName builds a vector store collection name from a project
// id and a suffix.
//
// Format: {sanitized_project}_{suffix}
// Example: CollectionName("9f8e7d6c-...", "documents")
//
//	-> "9f8e7d6c_..._documents"
//
// The result is guaranteed valid for vector store collection names.
func CollectionName(project, suffix string) string {
	name := Identifier(project)
	if suffix != "" {
		name = name + "_" + suffix
	}

	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}

	return name
}
