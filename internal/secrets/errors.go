// Package secrets detects and redacts credentials in outbound text
// using the Gitleaks SDK. The store keeps originals; only traffic
// leaving the daemon for the model or the embedder is scrubbed.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates a regex pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates a TOML file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
