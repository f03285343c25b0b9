// Package parsers turns downloaded block-list text and user rule files into
// canonical domain sets and rules. Malformed lines are dropped and logged at
// debug level; only reader failures abort a parse.
package parsers

import (
	"io"
	"strings"

	logpkg "github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/common/utils"
	"github.com/haukened/nullroute/internal/dns/domain"
)

// ParseHosts parses hosts-format block-list text into a set of blocked names.
//
// Per line, after stripping a '#' comment and surrounding whitespace:
//   - "ADDR host": host is kept when ADDR is a null-route address
//     (0.0.0.0, 127.0.0.1, ::, ::1)
//   - "hostA hostB": when hostA is itself a valid non-IP domain both names
//     are kept, for lists that pair two domains per line
//   - "host": a bare domain is kept
//
// Any other shape is dropped. Names must pass hostname validation and must
// not be a localhost alias. The result is lowercased and deduplicated.
func ParseHosts(r io.Reader, logger logpkg.Logger) (domain.DomainSet, error) {
	out := make(domain.DomainSet, 1024)
	add := func(lineNum int, raw string) {
		name := utils.CanonicalDNSName(raw)
		if isLocalhostAlias(name) {
			logger.Debug(logpkg.Fields{"line": lineNum, "name": name}, "hosts_skip_alias")
			return
		}
		if err := domain.ValidateHostname(name); err != nil {
			logger.Debug(logpkg.Fields{"line": lineNum, "raw": raw, "error": err.Error()}, "hosts_skip_invalid_domain")
			return
		}
		out.Add(name)
	}

	lines, err := eachLine(r, func(lineNum int, text string, tooLong bool) {
		if tooLong {
			logger.Debug(logpkg.Fields{"line": lineNum, "max_bytes": maxLineBytes}, "hosts_skip_shape")
			return
		}
		line := stripInlineComment(stripLineBOM(text))
		if line == "" {
			return
		}

		fields := strings.Fields(line)
		switch len(fields) {
		case 1:
			add(lineNum, fields[0])
		case 2:
			first := fields[0]
			switch {
			case isNullRoute(first):
				add(lineNum, fields[1])
			case isValidHostname(utils.CanonicalDNSName(first)):
				add(lineNum, first)
				add(lineNum, fields[1])
			default:
				logger.Debug(logpkg.Fields{"line": lineNum, "addr": first}, "hosts_skip_address")
			}
		default:
			logger.Debug(logpkg.Fields{"line": lineNum, "tokens": len(fields)}, "hosts_skip_shape")
		}
	})
	if err != nil {
		logger.Debug(logpkg.Fields{"line": lines, "error": err.Error()}, "parse_hosts_read_error")
		return nil, err
	}
	logger.Debug(logpkg.Fields{"lines": lines, "count": out.Len()}, "parse_hosts_done")
	return out, nil
}

// ParseHostsString is ParseHosts over in-memory text, which cannot fail to
// read.
func ParseHostsString(text string, logger logpkg.Logger) domain.DomainSet {
	set, err := ParseHosts(strings.NewReader(text), logger)
	if err != nil {
		return domain.NewDomainSet()
	}
	return set
}
