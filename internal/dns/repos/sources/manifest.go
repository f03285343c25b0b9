// Package sources reads the YAML manifest naming block-list files, user rule
// files and seed rules.
//
//	sources:
//	  - name: stevenblack
//	    path: lists/stevenblack.hosts
//	rule_files:
//	  - rules/custom.txt
//	rules:
//	  - pattern: "*.doubleclick.net"
//	    kind: block
//	  - pattern: router.home.example
//	    kind: redirect
//	    address: 192.168.1.1
//	    enabled: false
//
// Relative paths resolve against the manifest's directory. enabled defaults
// to true. A rule file ending in .yaml, .yml, .json or .toml is read with
// LoadRuleFile; any other rule file is a plain rule list.
package sources

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/haukened/nullroute/internal/dns/domain"
)

// Source is one downloaded block list in hosts format.
type Source struct {
	Name    string
	Path    string
	Enabled bool
}

// Manifest is the decoded, validated manifest.
type Manifest struct {
	Sources   []Source
	RuleFiles []string
	Rules     []domain.UserRule
}

// EnabledSources returns the sources that should be loaded.
func (m Manifest) EnabledSources() []Source {
	out := make([]Source, 0, len(m.Sources))
	for _, s := range m.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

type rawSource struct {
	Name    string `yaml:"name" validate:"required"`
	Path    string `yaml:"path" validate:"required"`
	Enabled *bool  `yaml:"enabled"`
}

type rawRule struct {
	Pattern string `yaml:"pattern" validate:"required"`
	Kind    string `yaml:"kind" validate:"required,oneof=block allow redirect"`
	Address string `yaml:"address" validate:"omitempty,ip"`
	Enabled *bool  `yaml:"enabled"`
}

type rawManifest struct {
	Sources   []rawSource `yaml:"sources" validate:"dive"`
	RuleFiles []string    `yaml:"rule_files" validate:"dive,required"`
	Rules     []rawRule   `yaml:"rules" validate:"dive"`
}

var validate = validator.New()

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest YAML. Relative paths are joined to baseDir.
// Every invalid entry is reported, not just the first.
func Parse(data []byte, baseDir string) (Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := validate.Struct(raw); err != nil {
		return Manifest{}, fmt.Errorf("validate manifest: %w", err)
	}

	var errs error
	m := Manifest{
		Sources:   make([]Source, 0, len(raw.Sources)),
		RuleFiles: make([]string, 0, len(raw.RuleFiles)),
		Rules:     make([]domain.UserRule, 0, len(raw.Rules)),
	}

	seen := make(map[string]struct{}, len(raw.Sources))
	for _, s := range raw.Sources {
		if _, dup := seen[s.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("source %q listed twice", s.Name))
			continue
		}
		seen[s.Name] = struct{}{}
		m.Sources = append(m.Sources, Source{
			Name:    s.Name,
			Path:    resolve(baseDir, s.Path),
			Enabled: enabled(s.Enabled),
		})
	}

	for _, f := range raw.RuleFiles {
		m.RuleFiles = append(m.RuleFiles, resolve(baseDir, f))
	}

	for i, r := range raw.Rules {
		kind, err := domain.ParseRuleKind(r.Kind)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		rule, err := domain.NewUserRule(r.Pattern, kind, r.Address, enabled(r.Enabled))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rule %d (%s): %w", i, r.Pattern, err))
			continue
		}
		m.Rules = append(m.Rules, rule)
	}

	if errs != nil {
		return Manifest{}, errs
	}
	return m, nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
