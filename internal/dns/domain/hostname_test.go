package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHostname(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"example.com", true},
		{"_dmarc.example.com", true},
		{"xn--d1acufc.xn--p1ai", true},
		{strings.Repeat("a", 63) + ".com", true},

		{"", false},
		{"localhost", false},
		{strings.Repeat("a", 64) + ".com", false},
		{strings.Repeat("a.", 127) + "com", false},
		{"example..com", false},
		{"example.com.", false},
		{"-abc.com", false},
		{"a b.com", false},
		{"*.abc.com", false},
		{"10.0.0.1", false},
		{"::1", false},
		{"ads.example.123", false},
	}
	for _, tt := range tests {
		err := ValidateHostname(tt.name)
		if tt.valid {
			assert.NoError(t, err, tt.name)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidDomainSyntax, tt.name)
	}
}

func TestUserRule_ValidateHostnameSyntax(t *testing.T) {
	_, err := NewUserRule("bad_host!.example.com", RuleBlock, "", true)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, err, ErrInvalidDomainSyntax)

	_, err = NewUserRule("*.-bad.example", RuleAllow, "", true)
	assert.ErrorIs(t, err, ErrInvalidDomainSyntax, "subtree bases are checked too")

	_, err = NewUserRule("*tr@ck*", RuleBlock, "", true)
	assert.NoError(t, err, "star patterns are matched textually")
}
