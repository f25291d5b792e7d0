package capabilities

import (
	"context"
	"strings"
)

// legal suffixes stripped during vendor name normalization
var vendorSuffixes = []string{
	"incorporated", "inc", "corporation", "corp", "company", "co",
	"limited", "ltd", "llc", "llp", "gmbh", "plc",
}

// FixtureNormalizer canonicalizes vendor names and serves enrichment
// metadata from an in-memory vendor master.
type FixtureNormalizer struct {
	vendors map[string]map[string]any
}

func NewFixtureNormalizer() *FixtureNormalizer {
	return &FixtureNormalizer{vendors: fixtureVendors()}
}

// Normalize lowercases, strips punctuation and trailing legal suffixes,
// and collapses whitespace so "ACME Corp." and "Acme Corporation" map to
// the same key.
func (n *FixtureNormalizer) Normalize(ctx context.Context, vendorName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return NormalizeVendorName(vendorName), nil
}

func (n *FixtureNormalizer) Enrich(ctx context.Context, vendorName string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profile, ok := n.vendors[NormalizeVendorName(vendorName)]
	if !ok {
		return map[string]any{"known_vendor": false}, nil
	}
	out := map[string]any{"known_vendor": true}
	for k, v := range profile {
		out[k] = v
	}
	return out, nil
}

// NormalizeVendorName is the canonicalization used for vendor matching.
func NormalizeVendorName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	words := strings.Fields(b.String())
	for len(words) > 1 {
		last := words[len(words)-1]
		if !isVendorSuffix(last) {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isVendorSuffix(word string) bool {
	for _, s := range vendorSuffixes {
		if word == s {
			return true
		}
	}
	return false
}
