package domain

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/haukened/nullroute/internal/dns/common/utils"
)

// RuleKind defines what a user rule does to the names it matches.
//
// block    - the name resolves to the null-route address
// allow    - the name is exempt from every block source
// redirect - the name resolves to a caller-supplied address
type RuleKind uint8

const (
	RuleBlock RuleKind = iota
	RuleAllow
	RuleRedirect
)

// String returns a stable string representation of the rule kind.
func (k RuleKind) String() string {
	switch k {
	case RuleBlock:
		return "block"
	case RuleAllow:
		return "allow"
	case RuleRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("RuleKind(%d)", k)
	}
}

// ParseRuleKind converts a string into a RuleKind.
// Accepts: "block", "allow", "redirect" (case-insensitive).
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block":
		return RuleBlock, nil
	case "allow":
		return RuleAllow, nil
	case "redirect":
		return RuleRedirect, nil
	default:
		return 0, fmt.Errorf("%w: unsupported rule kind %q", ErrInvalidRule, s)
	}
}

// UserRule is a single user-authored rule.
//
// Wildcard rules keep only their base in Hostname: "*.ads.example.com" is
// stored as "ads.example.com" with Wildcard set, and governs that name and
// its whole subtree. Patterns with an interior or trailing star ("*track*",
// "ads*") are wildcard rules whose Hostname keeps the stars; they can only be
// evaluated by MatchesWildcard and are ignored by the trie.
type UserRule struct {
	Hostname string   `json:"hostname"`
	Kind     RuleKind `json:"kind"`
	Redirect string   `json:"redirect,omitempty"`
	Enabled  bool     `json:"enabled"`
	Wildcard bool     `json:"wildcard"`
}

// NewUserRule normalizes pattern and builds a validated rule.
func NewUserRule(pattern string, kind RuleKind, redirect string, enabled bool) (UserRule, error) {
	host, wildcard := normalizePattern(pattern)
	r := UserRule{
		Hostname: host,
		Kind:     kind,
		Redirect: strings.TrimSpace(redirect),
		Enabled:  enabled,
		Wildcard: wildcard,
	}
	if err := r.Validate(); err != nil {
		return UserRule{}, err
	}
	return r, nil
}

func normalizePattern(pattern string) (string, bool) {
	p := utils.CanonicalDNSName(pattern)
	switch {
	case strings.HasPrefix(p, "*."):
		return p[2:], true
	case strings.HasPrefix(p, "."):
		return strings.TrimLeft(p, "."), true
	case strings.Contains(p, "*"):
		return p, true
	default:
		return p, false
	}
}

// Validate checks the rule for required fields and supported values.
func (r UserRule) Validate() error {
	if r.Hostname == "" {
		return fmt.Errorf("%w: hostname must not be empty", ErrInvalidRule)
	}
	// Patterns with a star are only matched textually.
	if !strings.Contains(r.Hostname, "*") {
		if err := ValidateHostname(r.Hostname); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
	}
	switch r.Kind {
	case RuleBlock, RuleAllow:
	case RuleRedirect:
		if _, err := netip.ParseAddr(r.Redirect); err != nil {
			return fmt.Errorf("%w: redirect address %q: %v", ErrInvalidRule, r.Redirect, err)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %d", ErrInvalidRule, r.Kind)
	}
	return nil
}

// Pattern returns the matchable form of the rule, restoring the "*." prefix
// stripped from subtree wildcards.
func (r UserRule) Pattern() string {
	if r.IsSubtree() {
		return "*." + r.Hostname
	}
	return r.Hostname
}

// IsSubtree reports whether the rule governs Hostname and every name below it.
func (r UserRule) IsSubtree() bool {
	return r.Wildcard && !strings.Contains(r.Hostname, "*")
}

// Key identifies a rule for storage; two rules with the same key replace each other.
func (r UserRule) Key() string {
	w := "0"
	if r.Wildcard {
		w = "1"
	}
	return r.Kind.String() + "|" + w + "|" + r.Hostname
}
