package domain

import "sort"

// DomainSet is a deduplicated set of canonical hostnames.
type DomainSet map[string]struct{}

// NewDomainSet returns a set holding names.
func NewDomainSet(names ...string) DomainSet {
	s := make(DomainSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s DomainSet) Add(name string)    { s[name] = struct{}{} }
func (s DomainSet) Remove(name string) { delete(s, name) }
func (s DomainSet) Len() int           { return len(s) }

// Has reports whether name is a member.
func (s DomainSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Merge adds every member of others to s.
func (s DomainSet) Merge(others ...DomainSet) {
	for _, o := range others {
		for n := range o {
			s[n] = struct{}{}
		}
	}
}

// Sorted returns the members in lexicographic order.
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
