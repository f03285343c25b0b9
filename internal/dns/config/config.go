// Package config loads nullrouted settings from built-in defaults overridden
// by NULLROUTE_-prefixed environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "NULLROUTE_"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log       LogConfig       `koanf:"log"`
	Listen    ListenConfig    `koanf:"listen"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Hosts     HostsConfig     `koanf:"hosts"`
	Rules     RulesConfig     `koanf:"rules"`
	Blocklist BlocklistConfig `koanf:"blocklist"`
	Admin     AdminConfig     `koanf:"admin"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

// ListenConfig is where the filtering DNS listener binds.
type ListenConfig struct {
	Address string `koanf:"address" validate:"required,ip"`
	Port    int    `koanf:"port" validate:"required,gte=1,lte=65535"`
}

// UpstreamConfig lists the resolvers allowed queries are forwarded to.
type UpstreamConfig struct {
	// Servers is a list of upstream DNS servers in ip:port format.
	Servers  []string      `koanf:"servers" validate:"required,min=1,dive,ip_port"`
	Timeout  time.Duration `koanf:"timeout" validate:"required,gt=0"`
	Parallel bool          `koanf:"parallel"`
	// CacheSize bounds the upstream reply cache; 0 disables it.
	CacheSize   int           `koanf:"cache_size" validate:"gte=0"`
	CacheMaxTTL time.Duration `koanf:"cache_max_ttl" validate:"gte=0"`
}

// HostsConfig controls the generated hosts file. An empty Path disables it.
type HostsConfig struct {
	Path         string `koanf:"path"`
	IPv4Redirect string `koanf:"ipv4_redirect" validate:"required,ipv4"`
	IPv6Redirect string `koanf:"ipv6_redirect" validate:"required,ipv6"`
	IPv6         bool   `koanf:"ipv6"`
}

// RulesConfig points at the user rule database and the source manifest.
type RulesConfig struct {
	DB       string `koanf:"db" validate:"required"`
	Manifest string `koanf:"manifest"`
}

// BlocklistConfig tunes the decision pipeline. A CacheSize of 0 disables
// the decision cache.
type BlocklistConfig struct {
	CacheSize   int     `koanf:"cache_size" validate:"gte=0"`
	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`
}

// AdminConfig binds the management HTTP API. An empty Address disables it.
type AdminConfig struct {
	Address string `koanf:"address" validate:"omitempty,ip_port"`
}

// ListenAddr returns the DNS listener's host:port.
func (c AppConfig) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port))
}

// DEFAULT_APP_CONFIG holds the values used when no environment override is set.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LogConfig{Level: "info"},
	Listen: ListenConfig{
		Address: "127.0.0.1",
		Port:    53,
	},
	Upstream: UpstreamConfig{
		Servers:     []string{"1.1.1.1:53", "1.0.0.1:53"},
		Timeout:     5 * time.Second,
		CacheSize:   4096,
		CacheMaxTTL: 5 * time.Minute,
	},
	Hosts: HostsConfig{
		IPv4Redirect: "0.0.0.0",
		IPv6Redirect: "::",
		IPv6:         true,
	},
	Rules: RulesConfig{
		DB:       "/var/lib/nullroute/rules.db",
		Manifest: "/etc/nullroute/sources.yaml",
	},
	Blocklist: BlocklistConfig{
		CacheSize:   10000,
		BloomFPRate: 0.01,
	},
}

// envKeys maps environment variable suffixes to koanf paths. Underscores
// inside key names make a mechanical mapping ambiguous.
var envKeys = map[string]string{
	"env":                     "env",
	"log_level":               "log.level",
	"listen_address":          "listen.address",
	"listen_port":             "listen.port",
	"upstream_servers":        "upstream.servers",
	"upstream_timeout":        "upstream.timeout",
	"upstream_parallel":       "upstream.parallel",
	"upstream_cache_size":     "upstream.cache_size",
	"upstream_cache_max_ttl":  "upstream.cache_max_ttl",
	"hosts_path":              "hosts.path",
	"hosts_ipv4_redirect":     "hosts.ipv4_redirect",
	"hosts_ipv6_redirect":     "hosts.ipv6_redirect",
	"hosts_ipv6":              "hosts.ipv6",
	"rules_db":                "rules.db",
	"rules_manifest":          "rules.manifest",
	"blocklist_cache_size":    "blocklist.cache_size",
	"blocklist_bloom_fp_rate": "blocklist.bloom_fp_rate",
	"admin_address":           "admin.address",
}

// listKeys are split on spaces and commas.
var listKeys = map[string]bool{
	"upstream.servers": true,
}

// validIPPort reports whether the field is an "IP:Port" pair with a port in 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envTransform maps one environment variable onto its koanf path. Unknown
// variables map to an empty key and are dropped.
func envTransform(key, value string) (string, any) {
	suffix := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	path, ok := envKeys[suffix]
	if !ok {
		return "", nil
	}
	value = strings.TrimSpace(value)
	if listKeys[path] && value != "" {
		return path, strings.FieldsFunc(value, func(r rune) bool {
			return r == ' ' || r == ','
		})
	}
	return path, value
}

// envLoader loads NULLROUTE_ environment variables; replaceable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envTransform,
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG; replaceable in tests.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "ip_port" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load returns the validated configuration from defaults and environment.
func Load() (*AppConfig, error) {
	return LoadWith(nil)
}

// LoadWith is Load with final overrides keyed by koanf path, e.g.
// {"rules.manifest": "/tmp/sources.yaml"}. Command-line flags use it.
func LoadWith(overrides map[string]any) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}
	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("error applying override %s: %w", key, err)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
