package parsers

import (
	"io"
	"strings"

	logpkg "github.com/haukened/nullroute/internal/dns/common/log"
	"github.com/haukened/nullroute/internal/dns/domain"
)

// ParseRuleList parses a user rule file into enabled UserRules.
//
// Line format, '#' starts a comment:
//
//	pattern                     block rule
//	block    pattern
//	allow    pattern
//	redirect pattern address
//
// Patterns may carry wildcards ("*.example.com", "*track*", "ads*").
// Invalid lines are skipped. A repeated rule replaces the earlier one in
// place, so the result keeps first-seen order with last-seen values.
func ParseRuleList(r io.Reader, logger logpkg.Logger) ([]domain.UserRule, error) {
	index := make(map[string]int)
	out := make([]domain.UserRule, 0, 64)
	logger.Debug(nil, "parse_rules_start")

	_, err := eachLine(r, func(lineNum int, text string, tooLong bool) {
		if tooLong {
			logger.Debug(logpkg.Fields{"line": lineNum, "max_bytes": maxLineBytes}, "rules_skip_invalid")
			return
		}
		line := stripInlineComment(stripLineBOM(text))
		if line == "" {
			return
		}

		rule, err := parseRuleLine(strings.Fields(line))
		if err != nil {
			logger.Debug(logpkg.Fields{"line": lineNum, "error": err.Error()}, "rules_skip_invalid")
			return
		}

		if i, ok := index[rule.Key()]; ok {
			out[i] = rule
			logger.Debug(logpkg.Fields{"line": lineNum, "rule": rule.Key()}, "rules_replace_duplicate")
			return
		}
		index[rule.Key()] = len(out)
		out = append(out, rule)
		logger.Debug(logpkg.Fields{"line": lineNum, "rule": rule.Key()}, "rules_emit")
	})
	if err != nil {
		logger.Debug(logpkg.Fields{"error": err.Error()}, "parse_rules_read_error")
		return nil, err
	}
	logger.Debug(logpkg.Fields{"count": len(out)}, "parse_rules_done")
	return out, nil
}

func parseRuleLine(fields []string) (domain.UserRule, error) {
	if len(fields) == 1 {
		if _, err := domain.ParseRuleKind(fields[0]); err == nil {
			return domain.UserRule{}, domain.ErrInvalidRule
		}
		return domain.NewUserRule(fields[0], domain.RuleBlock, "", true)
	}
	kind, err := domain.ParseRuleKind(fields[0])
	if err != nil {
		return domain.UserRule{}, err
	}
	switch {
	case kind == domain.RuleRedirect && len(fields) == 3:
		return domain.NewUserRule(fields[1], kind, fields[2], true)
	case kind != domain.RuleRedirect && len(fields) == 2:
		return domain.NewUserRule(fields[1], kind, "", true)
	default:
		return domain.UserRule{}, domain.ErrInvalidRule
	}
}
