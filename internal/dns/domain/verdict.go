package domain

import "fmt"

// Verdict is the outcome of classifying a hostname.
type Verdict uint8

const (
	// Allowed means the query should be forwarded upstream untouched.
	Allowed Verdict = iota
	// Blocked means the query should be answered with NXDOMAIN.
	Blocked
)

// String returns a stable lowercase name for the verdict.
func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("Verdict(%d)", v)
	}
}
