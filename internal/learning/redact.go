// Package learning captures redacted unknown-command candidates and drives
// the human-gated promotion path to learned-safe patterns.
package learning

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Redaction order matters: GUIDs and hashes are hex-heavy and must be
// replaced before the generic hash rule could swallow part of a GUID.
var (
	guidPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	hashPattern  = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)
	ipPattern    = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	// Windows drive paths, UNC paths, and rooted POSIX paths.
	pathPattern = regexp.MustCompile(`(?:[A-Za-z]:\\|\\\\|/)[^\s'";|]*`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// Normalize lowercases the command, collapses whitespace, and replaces
// sensitive tokens with named placeholders. The result is the learning
// pipeline's aggregation key; raw text never leaves this function.
func Normalize(command string) string {
	s := strings.ToLower(command)
	s = guidPattern.ReplaceAllString(s, "OBF_GUID")
	s = emailPattern.ReplaceAllString(s, "OBF_EMAIL")
	s = ipPattern.ReplaceAllString(s, "OBF_IP")
	s = hashPattern.ReplaceAllString(s, "OBF_HASH")
	s = pathPattern.ReplaceAllString(s, "OBF_PATH")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StructuralHash computes the keyed HMAC-SHA256 of a normalized form.
func StructuralHash(normalized, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}
