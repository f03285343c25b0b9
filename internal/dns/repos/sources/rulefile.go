package sources

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// rootKey names the optional origin that relative names in a structured
// rule file are joined to.
const rootKey = "root"

// IsStructuredRuleFile reports whether path has an extension handled by
// LoadRuleFile. Other rule files are plain "kind pattern [address]" lists.
func IsStructuredRuleFile(path string) bool {
	return ruleFileParser(path) != nil
}

func ruleFileParser(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return nil
	}
}

// LoadRuleFile reads a YAML, JSON or TOML rule file:
//
//	root: home.example
//	block: [ads, "*.tracker"]
//	allow: "@"
//	redirect:
//	  - name: router
//	    address: 192.168.1.1
//
// "@" expands to root, a name ending in "." is absolute, and any other name
// is joined to root when one is set. Every invalid entry is reported.
func LoadRuleFile(path string) ([]domain.UserRule, error) {
	parser := ruleFileParser(path)
	if parser == nil {
		return nil, fmt.Errorf("rule file %s: unsupported extension", path)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load rule file %s: %w", path, err)
	}

	root := strings.TrimSuffix(k.String(rootKey), ".")
	var (
		rules []domain.UserRule
		errs  error
	)
	add := func(name string, kind domain.RuleKind, address string) {
		rule, err := domain.NewUserRule(expandName(name, root), kind, address, true)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", kind, name, err))
			return
		}
		rules = append(rules, rule)
	}

	for _, kind := range []domain.RuleKind{domain.RuleBlock, domain.RuleAllow} {
		for _, name := range normalize(k.Get(kind.String())) {
			add(name, kind, "")
		}
	}

	redirects, ok := k.Get(domain.RuleRedirect.String()).([]any)
	if k.Exists(domain.RuleRedirect.String()) && !ok {
		errs = multierr.Append(errs, fmt.Errorf("redirect must be a list of name/address entries"))
	}
	for i, raw := range redirects {
		entry, ok := raw.(map[string]any)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("redirect %d: expected name and address", i))
			continue
		}
		name, _ := entry["name"].(string)
		address, _ := entry["address"].(string)
		add(name, domain.RuleRedirect, address)
	}

	if errs != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, errs)
	}
	return rules, nil
}

// expandName resolves a rule file name against root. A leading "*." is kept
// in front of the expanded name.
func expandName(name, root string) string {
	name = strings.TrimSpace(name)
	prefix := ""
	if strings.HasPrefix(name, "*.") {
		prefix, name = "*.", name[2:]
	}
	switch {
	case name == "@":
		return prefix + root
	case strings.HasSuffix(name, "."), root == "", name == "":
		return prefix + name
	default:
		return prefix + name + "." + root
	}
}

// normalize accepts a single string or a list and returns the strings in it.
func normalize(val any) []string {
	switch v := val.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
