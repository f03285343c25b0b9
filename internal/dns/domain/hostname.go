package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

const (
	maxNameLen  = 253
	maxLabelLen = 63
)

// ValidateHostname checks a canonical (lowercase, no trailing dot) name:
//   - at most 253 characters and not an IP literal
//   - at least two labels, each 1-63 characters
//   - labels use letters, digits, '-' and '_' and do not start or end with '-'
//   - the top-level label is not purely numeric
//
// Failures wrap ErrInvalidDomainSyntax.
func ValidateHostname(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidDomainSyntax)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidDomainSyntax, len(name), maxNameLen)
	}
	if _, err := netip.ParseAddr(name); err == nil {
		return fmt.Errorf("%w: %q is an IP address", ErrInvalidDomainSyntax, name)
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return fmt.Errorf("%w: %q has a single label", ErrInvalidDomainSyntax, name)
	}
	for _, l := range labels {
		if err := validateLabel(l); err != nil {
			return fmt.Errorf("%w: %q: %s", ErrInvalidDomainSyntax, name, err)
		}
	}
	if isNumeric(labels[len(labels)-1]) {
		return fmt.Errorf("%w: %q has a numeric top-level label", ErrInvalidDomainSyntax, name)
	}
	return nil
}

func validateLabel(l string) error {
	if len(l) == 0 || len(l) > maxLabelLen {
		return fmt.Errorf("label length %d", len(l))
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return fmt.Errorf("label %q starts or ends with '-'", l)
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("label %q has character %q", l, c)
		}
	}
	return nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
