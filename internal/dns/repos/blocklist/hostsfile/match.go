package hostsfile

import "strings"

// MatchesWildcard reports whether domain matches pattern. Shapes are tried
// in order:
//
//	*.base    base itself or any name ending in ".base"
//	*x*       names containing x
//	*suffix   names ending in suffix
//	prefix*   names starting with prefix
//	other     exact equality
//
// Both sides are compared lowercase.
func MatchesWildcard(domain, pattern string) bool {
	d := strings.ToLower(domain)
	p := strings.ToLower(pattern)

	switch {
	case strings.HasPrefix(p, "*."):
		base := p[2:]
		return d == base || strings.HasSuffix(d, "."+base)
	case len(p) > 1 && strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*"):
		return strings.Contains(d, p[1:len(p)-1])
	case strings.HasPrefix(p, "*"):
		return strings.HasSuffix(d, p[1:])
	case strings.HasSuffix(p, "*"):
		return strings.HasPrefix(d, p[:len(p)-1])
	default:
		return d == p
	}
}
