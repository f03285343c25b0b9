package trie

import "slices"

// dohBypassDomains are encrypted-DNS resolver hostnames. Resolving them
// directly would let an app skip plain-DNS filtering, so every generation
// blocks them exactly. The list is by hostname only; self-hosted resolvers
// are not covered.
var dohBypassDomains = [...]string{
	"dns.google",
	"dns.google.com",
	"dns64.dns.google",
	"8888.google",
	"one.one.one.one",
	"dns.quad9.net",
	"dns9.quad9.net",
	"dns10.quad9.net",
	"dns11.quad9.net",
	"doh.opendns.com",
	"doh.familyshield.opendns.com",
	"dns.adguard.com",
	"dns-family.adguard.com",
	"dns-unfiltered.adguard.com",
	"doh.dns.sb",
	"dns.alidns.com",
	"doh.pub",
	"dns.pub",
	"doh.360.cn",
	"dns.twnic.tw",
	"doh.mullvad.net",
	"dns.mullvad.net",
	"adblock.doh.mullvad.net",
	"doh.xfinity.com",
	"dns.switch.ch",
	"dns.digitale-gesellschaft.ch",
	"doh.libredns.gr",
	"doh.applied-privacy.net",
	"odvr.nic.cz",
	"doh.ffmuc.net",
	"dns.njal.la",
	// Firefox canary: NXDOMAIN here tells the browser to keep DoH off.
	"use-application-dns.net",
}

// dohBypassWildcards are provider domains whose whole subtree serves DoH.
var dohBypassWildcards = [...]string{
	"cloudflare-dns.com",
	"nextdns.io",
	"adguard-dns.com",
	"doh.cleanbrowsing.org",
	"dns.controld.com",
}

// BypassDomains returns a copy of the exact DoH bypass table.
func BypassDomains() []string {
	return slices.Clone(dohBypassDomains[:])
}

// BypassWildcards returns a copy of the subtree DoH bypass table.
func BypassWildcards() []string {
	return slices.Clone(dohBypassWildcards[:])
}
