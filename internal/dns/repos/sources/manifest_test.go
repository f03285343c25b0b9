package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/domain"
)

const sample = `
sources:
  - name: stevenblack
    path: lists/stevenblack.hosts
  - name: oisd
    path: /var/lib/nullroute/oisd.hosts
    enabled: false
rule_files:
  - rules/custom.txt
rules:
  - pattern: "*.doubleclick.net"
    kind: block
  - pattern: Good.Example.com
    kind: allow
  - pattern: router.home.example
    kind: redirect
    address: 192.168.1.1
    enabled: false
  - pattern: "*track*"
    kind: block
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(sample), "/etc/nullroute")
	require.NoError(t, err)

	assert.Equal(t, []Source{
		{Name: "stevenblack", Path: "/etc/nullroute/lists/stevenblack.hosts", Enabled: true},
		{Name: "oisd", Path: "/var/lib/nullroute/oisd.hosts", Enabled: false},
	}, m.Sources)
	assert.Equal(t, []Source{m.Sources[0]}, m.EnabledSources())
	assert.Equal(t, []string{"/etc/nullroute/rules/custom.txt"}, m.RuleFiles)

	assert.Equal(t, []domain.UserRule{
		{Hostname: "doubleclick.net", Kind: domain.RuleBlock, Enabled: true, Wildcard: true},
		{Hostname: "good.example.com", Kind: domain.RuleAllow, Enabled: true},
		{Hostname: "router.home.example", Kind: domain.RuleRedirect, Redirect: "192.168.1.1", Enabled: false},
		{Hostname: "*track*", Kind: domain.RuleBlock, Enabled: true, Wildcard: true},
	}, m.Rules)
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse([]byte(""), "")
	require.NoError(t, err)
	assert.Empty(t, m.Sources)
	assert.Empty(t, m.Rules)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "sources: [\n"},
		{"source without path", "sources:\n  - name: a\n"},
		{"unknown kind", "rules:\n  - pattern: a.com\n    kind: deny\n"},
		{"redirect without address", "rules:\n  - pattern: a.com\n    kind: redirect\n"},
		{"redirect bad address", "rules:\n  - pattern: a.com\n    kind: redirect\n    address: nowhere\n"},
		{"blank rule file", "rule_files:\n  - \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			assert.Error(t, err)
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	y := `
sources:
  - name: a
    path: a.hosts
  - name: a
    path: b.hosts
rules:
  - pattern: "..."
    kind: block
`
	_, err := Parse([]byte(y), "")
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, domain.ErrInvalidRule)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "lists/stevenblack.hosts"), m.Sources[0].Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
