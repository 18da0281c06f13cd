// Package secrets provides secret detection and redaction using gitleaks.
//
// Outbound model traffic (chat messages, document text for embedding)
// passes through scrubbing before it leaves the daemon. The store keeps
// the unscrubbed originals. Rule IDs and counts are preserved for
// metrics while the matched content is redacted.
package secrets
