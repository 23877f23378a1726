package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives the stable identity of a failure mode from its error
// class, service, and discriminator tokens. Token order and duplicates
// never change the result; the class and service always do.
func Fingerprint(errorClass, service string, tokens []string) string {
	canonical := canonicalTokens(tokens)

	var b strings.Builder
	b.WriteString(errorClass)
	b.WriteByte('\n')
	b.WriteString(service)
	for _, token := range canonical {
		b.WriteByte('\n')
		b.WriteString(token)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return "fp-" + hex.EncodeToString(sum[:])[:32]
}

// canonicalTokens lowercases, trims, dedupes, and sorts.
func canonicalTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		t := strings.ToLower(strings.TrimSpace(token))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
