// Package utils holds small helpers for working with DNS names in text form.
package utils

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// CanonicalDNSName returns a DNS name in canonical form:
// - Lowercased
// - Trimmed of surrounding whitespace
// - No trailing dot
func CanonicalDNSName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimRight(name, ".")
}

// ReverseLabels splits a canonical name into labels ordered from the
// top-level domain down to the leaf: "ads.example.com" → [com example ads].
func ReverseLabels(name string) []string {
	if name == "" {
		return nil
	}
	labels := strings.Split(name, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return labels
}

// StripWWW removes a single leading "www." label. ok is false when name
// does not start with one.
func StripWWW(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, "www.")
	if !ok || rest == "" {
		return name, false
	}
	return rest, true
}

// ApexDomain returns the registrable domain (eTLD+1) of name, or the
// canonical name itself when the public suffix list has no answer.
func ApexDomain(name string) string {
	name = CanonicalDNSName(name)
	apex, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apex
}

// Suffixes returns name followed by each of its parent domains, most
// specific first: "a.b.com" → [a.b.com b.com com].
func Suffixes(name string) []string {
	if name == "" {
		return nil
	}
	out := []string{name}
	for {
		i := strings.IndexByte(name, '.')
		if i < 0 || i == len(name)-1 {
			return out
		}
		name = name[i+1:]
		out = append(out, name)
	}
}
