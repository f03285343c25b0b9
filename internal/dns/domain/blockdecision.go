package domain

// BlockDecision represents the outcome of evaluating a domain against the blocklist.
// Pure value type, no external dependencies.
type BlockDecision struct {
	Verdict Verdict
	Name    string // canonical name that was classified
	Apex    string // registrable domain of Name, for logging and metrics
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Verdict == Blocked }

// AllowDecision returns a not-blocked decision for name.
func AllowDecision(name string) BlockDecision {
	return BlockDecision{Verdict: Allowed, Name: name}
}
