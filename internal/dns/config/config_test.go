package config

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1", cfg.Listen.Address)
	assert.Equal(t, 53, cfg.Listen.Port)
	assert.Equal(t, "127.0.0.1:53", cfg.ListenAddr())
	assert.Equal(t, []string{"1.1.1.1:53", "1.0.0.1:53"}, cfg.Upstream.Servers)
	assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
	assert.False(t, cfg.Upstream.Parallel)
	assert.Equal(t, 4096, cfg.Upstream.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Upstream.CacheMaxTTL)
	assert.Empty(t, cfg.Hosts.Path)
	assert.Equal(t, "0.0.0.0", cfg.Hosts.IPv4Redirect)
	assert.Equal(t, "::", cfg.Hosts.IPv6Redirect)
	assert.True(t, cfg.Hosts.IPv6)
	assert.Equal(t, "/var/lib/nullroute/rules.db", cfg.Rules.DB)
	assert.Equal(t, "/etc/nullroute/sources.yaml", cfg.Rules.Manifest)
	assert.Equal(t, 10000, cfg.Blocklist.CacheSize)
	assert.InDelta(t, 0.01, cfg.Blocklist.BloomFPRate, 1e-9)
	assert.Empty(t, cfg.Admin.Address)
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("NULLROUTE_ENV", "dev")
	t.Setenv("NULLROUTE_LOG_LEVEL", "debug")
	t.Setenv("NULLROUTE_LISTEN_ADDRESS", "::1")
	t.Setenv("NULLROUTE_LISTEN_PORT", "5353")
	t.Setenv("NULLROUTE_UPSTREAM_SERVERS", "8.8.8.8:53 8.8.4.4:53,[2001:4860:4860::8888]:53")
	t.Setenv("NULLROUTE_UPSTREAM_TIMEOUT", "750ms")
	t.Setenv("NULLROUTE_UPSTREAM_PARALLEL", "true")
	t.Setenv("NULLROUTE_UPSTREAM_CACHE_SIZE", "0")
	t.Setenv("NULLROUTE_UPSTREAM_CACHE_MAX_TTL", "30s")
	t.Setenv("NULLROUTE_HOSTS_PATH", "/tmp/hosts")
	t.Setenv("NULLROUTE_HOSTS_IPV4_REDIRECT", "127.0.0.1")
	t.Setenv("NULLROUTE_HOSTS_IPV6_REDIRECT", "::1")
	t.Setenv("NULLROUTE_HOSTS_IPV6", "false")
	t.Setenv("NULLROUTE_RULES_DB", "/tmp/rules.db")
	t.Setenv("NULLROUTE_RULES_MANIFEST", "/tmp/sources.yaml")
	t.Setenv("NULLROUTE_BLOCKLIST_CACHE_SIZE", "0")
	t.Setenv("NULLROUTE_BLOCKLIST_BLOOM_FP_RATE", "0.001")
	t.Setenv("NULLROUTE_ADMIN_ADDRESS", "127.0.0.1:8053")
	t.Setenv("NULLROUTE_UNKNOWN_KEY", "ignored")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "[::1]:5353", cfg.ListenAddr())
	assert.Equal(t, []string{"8.8.8.8:53", "8.8.4.4:53", "[2001:4860:4860::8888]:53"}, cfg.Upstream.Servers)
	assert.Equal(t, 750*time.Millisecond, cfg.Upstream.Timeout)
	assert.True(t, cfg.Upstream.Parallel)
	assert.Equal(t, 0, cfg.Upstream.CacheSize)
	assert.Equal(t, 30*time.Second, cfg.Upstream.CacheMaxTTL)
	assert.Equal(t, "/tmp/hosts", cfg.Hosts.Path)
	assert.Equal(t, "127.0.0.1", cfg.Hosts.IPv4Redirect)
	assert.Equal(t, "::1", cfg.Hosts.IPv6Redirect)
	assert.False(t, cfg.Hosts.IPv6)
	assert.Equal(t, "/tmp/rules.db", cfg.Rules.DB)
	assert.Equal(t, "/tmp/sources.yaml", cfg.Rules.Manifest)
	assert.Equal(t, 0, cfg.Blocklist.CacheSize)
	assert.InDelta(t, 0.001, cfg.Blocklist.BloomFPRate, 1e-9)
	assert.Equal(t, "127.0.0.1:8053", cfg.Admin.Address)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad env", "NULLROUTE_ENV", "staging"},
		{"bad log level", "NULLROUTE_LOG_LEVEL", "verbose"},
		{"non-numeric port", "NULLROUTE_LISTEN_PORT", "not_a_number"},
		{"port out of range", "NULLROUTE_LISTEN_PORT", "70000"},
		{"listen address not an ip", "NULLROUTE_LISTEN_ADDRESS", "localhost"},
		{"bad upstream", "NULLROUTE_UPSTREAM_SERVERS", "not_a_server"},
		{"zero timeout", "NULLROUTE_UPSTREAM_TIMEOUT", "0s"},
		{"negative reply cache", "NULLROUTE_UPSTREAM_CACHE_SIZE", "-5"},
		{"ipv6 in v4 redirect", "NULLROUTE_HOSTS_IPV4_REDIRECT", "::"},
		{"ipv4 in v6 redirect", "NULLROUTE_HOSTS_IPV6_REDIRECT", "0.0.0.0"},
		{"empty db path", "NULLROUTE_RULES_DB", ""},
		{"negative cache", "NULLROUTE_BLOCKLIST_CACHE_SIZE", "-1"},
		{"fp rate of one", "NULLROUTE_BLOCKLIST_BLOOM_FP_RATE", "1"},
		{"admin without port", "NULLROUTE_ADMIN_ADDRESS", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadWith_Overrides(t *testing.T) {
	t.Setenv("NULLROUTE_RULES_MANIFEST", "/from/env.yaml")

	cfg, err := LoadWith(map[string]any{
		"rules.manifest": "/from/flag.yaml",
		"listen.port":    8053,
	})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.yaml", cfg.Rules.Manifest)
	assert.Equal(t, 8053, cfg.Listen.Port)
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		key, value string
		wantKey    string
		wantValue  any
	}{
		{"NULLROUTE_LOG_LEVEL", " debug ", "log.level", "debug"},
		{"NULLROUTE_HOSTS_IPV4_REDIRECT", "0.0.0.0", "hosts.ipv4_redirect", "0.0.0.0"},
		{"NULLROUTE_UPSTREAM_SERVERS", "a:53, b:53", "upstream.servers", []string{"a:53", "b:53"}},
		{"NULLROUTE_UPSTREAM_SERVERS", "", "upstream.servers", ""},
		{"NULLROUTE_NOPE", "x", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			k, v := envTransform(tt.key, tt.value)
			assert.Equal(t, tt.wantKey, k)
			assert.Equal(t, tt.wantValue, v)
		})
	}
}

func TestValidIPPort(t *testing.T) {
	cases := []struct {
		input    string
		expected bool
	}{
		{"1.2.3.4:53", true},
		{"127.0.0.1:5353", true},
		{"::1:53", false},
		{"[::1]:53", true},
		{"192.168.1.1:", false},
		{":53", false},
		{"not_an_ip:53", false},
		{"1.2.3.4:notaport", false},
		{"1.2.3.4:0", false},
		{"", false},
		{"1.2.3.4", false},
	}

	validate := validator.New()
	require.NoError(t, validate.RegisterValidation("ip_port", validIPPort))

	type S struct {
		Addr string `validate:"ip_port"`
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			err := validate.Struct(S{Addr: tc.input})
			assert.Equal(t, tc.expected, err == nil)
		})
	}
}

func TestLoad_LoaderErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("defaults", func(t *testing.T) {
		orig := defaultLoader
		t.Cleanup(func() { defaultLoader = orig })
		defaultLoader = func(*koanf.Koanf) error { return boom }

		_, err := Load()
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "error loading default config")
	})

	t.Run("env", func(t *testing.T) {
		orig := envLoader
		t.Cleanup(func() { envLoader = orig })
		envLoader = func(*koanf.Koanf) error { return boom }

		_, err := Load()
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "error loading env")
	})

	t.Run("validation registration", func(t *testing.T) {
		orig := registerValidation
		t.Cleanup(func() { registerValidation = orig })
		registerValidation = func(*validator.Validate) error { return boom }

		_, err := Load()
		assert.ErrorIs(t, err, boom)
	})
}

func TestDefaultLoader_LoadsDefaults(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, defaultLoader(k))

	var cfg AppConfig
	require.NoError(t, k.Unmarshal("", &cfg))
	assert.Equal(t, DEFAULT_APP_CONFIG, cfg)
}
