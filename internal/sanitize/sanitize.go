// Package sanitize normalizes identifiers and user text before they reach a
// vector store.
//
// Collection names must match ^[a-z0-9_]{1,64}$ on every backend. Stored
// text must be valid UTF-8 without NUL bytes: protobuf strings reject the
// former and PostgreSQL text columns reject the latter.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	// MaxIdentifierLength is the longest collection name any backend accepts.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of "_" plus eight hex digits.
	HashSuffixLength = 9

	// DefaultIdentifier replaces input that sanitizes to nothing.
	DefaultIdentifier = "default"

	// CollectionPrefix starts every derived collection name.
	CollectionPrefix = "docindex"
)

// Identifier lowercases s, replaces every rune outside [a-z0-9_] with an
// underscore, collapses and trims underscores, and shortens the result
// with a hash suffix when it is too long.
//
//	"OpenAI"          -> "openai"
//	"BAAI/bge-small"  -> "baai_bge_small"
//	"" or "!!!"       -> "default"
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")

	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash keeps a prefix of s and appends the first eight hex
// digits of its SHA-256 so distinct long inputs stay distinct.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]
	return strings.TrimRight(s[:MaxIdentifierLength-HashSuffixLength], "_") + suffix
}

// CollectionName derives docindex_<provider>_<dimension>. The result is
// always a valid collection name.
func CollectionName(provider string, dimension int) string {
	name := CollectionPrefix + "_" + Identifier(provider) + "_" + strconv.Itoa(dimension)
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}
	return name
}
