// Package config loads stream-client settings from YAML, TOML or .env
// files, with STREAM_CLIENT_* environment overrides, and assembles
// connectors and pools from them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml"
	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
	yaml "gopkg.in/yaml.v2"

	"github.com/Tinkoff/stream-client/connector"
	"github.com/Tinkoff/stream-client/log"
	"github.com/Tinkoff/stream-client/pool"
	"github.com/Tinkoff/stream-client/resolver"
	"github.com/Tinkoff/stream-client/stream"
)

// envPrefix for environment variable overrides, e.g. STREAM_CLIENT_HOST.
const envPrefix = "STREAM_CLIENT_"

// StrategyConfig selects and parameterizes the pool refill strategy.
type StrategyConfig struct {
	// Kind is "greedy" or "conservative".
	Kind         string        `mapstructure:"kind"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// TLSConfig configures the TLS layer for tls/https pools.
type TLSConfig struct {
	// UpstreamHost for SNI and hostname verification; defaults to Host.
	UpstreamHost string `mapstructure:"upstream_host"`
	// Verify defaults to true.
	Verify *bool `mapstructure:"verify"`
}

// HTTPConfig bounds the HTTP receive path.
type HTTPConfig struct {
	HeaderLimit int `mapstructure:"header_limit"`
	BodyLimit   int `mapstructure:"body_limit"`
}

// Config mirrors the construction options of the library.
type Config struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`

	ResolveTimeout   time.Duration `mapstructure:"resolve_timeout"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	IPFamily string `mapstructure:"ip_family"`

	PoolSize    int           `mapstructure:"pool_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	Strategy StrategyConfig `mapstructure:"strategy"`
	TLS      TLSConfig      `mapstructure:"tls"`
	HTTP     HTTPConfig     `mapstructure:"http"`

	LogLevel string `mapstructure:"log_level"`
}

// Default returns the baseline configuration applied under loaded files.
func Default() Config {
	return Config{
		Port:             "443",
		ResolveTimeout:   connector.DefaultResolveTimeout,
		ConnectTimeout:   connector.DefaultConnectTimeout,
		OperationTimeout: connector.DefaultOperationTimeout,
		PoolSize:         4,
		Strategy:         StrategyConfig{Kind: "greedy"},
	}
}

// Load reads the file at path (extension decides the format: .yaml/.yml,
// .toml or .env), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := decode(values, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from defaults and environment only.
func FromEnv() (*Config, error) {
	cfg := Default()
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		var raw map[interface{}]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return normalizeMap(raw), nil
	case ".toml":
		tree, err := toml.LoadBytes(data)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return tree.ToMap(), nil
	case ".env":
		env, err := gotenv.StrictParse(strings.NewReader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		return nestEnv(env), nil
	default:
		return nil, fmt.Errorf("config: unsupported file format %q", ext)
	}
}

// normalizeMap rewrites yaml.v2 map[interface{}]interface{} trees into the
// string-keyed form mapstructure expects.
func normalizeMap(in map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		key := strings.ToLower(cast.ToString(k))
		if sub, ok := v.(map[interface{}]interface{}); ok {
			out[key] = normalizeMap(sub)
			continue
		}
		out[key] = v
	}
	return out
}

// sections that .env style flat keys nest under.
var envSections = []string{"strategy", "tls", "http"}

// nestEnv turns flat KEY=value pairs (STRATEGY_KIND=...) into the nested
// shape of Config.
func nestEnv(env gotenv.Env) map[string]interface{} {
	out := make(map[string]interface{}, len(env))
	for k, v := range env {
		key := strings.ToLower(k)
		nested := false
		for _, sec := range envSections {
			if strings.HasPrefix(key, sec+"_") {
				sub, _ := out[sec].(map[string]interface{})
				if sub == nil {
					sub = make(map[string]interface{})
					out[sec] = sub
				}
				sub[strings.TrimPrefix(key, sec+"_")] = v
				nested = true
				break
			}
		}
		if !nested {
			out[key] = v
		}
	}
	return out
}

func decode(values map[string]interface{}, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(values)
}

// applyEnv overrides single fields from STREAM_CLIENT_* variables.
func applyEnv(cfg *Config) {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = cast.ToInt(v)
		}
	}

	setString("HOST", &cfg.Host)
	setString("PORT", &cfg.Port)
	setString("IP_FAMILY", &cfg.IPFamily)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("STRATEGY_KIND", &cfg.Strategy.Kind)
	setString("TLS_UPSTREAM_HOST", &cfg.TLS.UpstreamHost)
	setDuration("RESOLVE_TIMEOUT", &cfg.ResolveTimeout)
	setDuration("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	setDuration("OPERATION_TIMEOUT", &cfg.OperationTimeout)
	setDuration("IDLE_TIMEOUT", &cfg.IdleTimeout)
	setDuration("STRATEGY_INITIAL_DELAY", &cfg.Strategy.InitialDelay)
	setInt("POOL_SIZE", &cfg.PoolSize)
	setInt("HTTP_HEADER_LIMIT", &cfg.HTTP.HeaderLimit)
	setInt("HTTP_BODY_LIMIT", &cfg.HTTP.BodyLimit)
	if v, ok := os.LookupEnv(envPrefix + "STRATEGY_MULTIPLIER"); ok {
		cfg.Strategy.Multiplier = cast.ToFloat64(v)
	}
	if v, ok := os.LookupEnv(envPrefix + "TLS_VERIFY"); ok {
		b := cast.ToBool(v)
		cfg.TLS.Verify = &b
	}
}

// Validate checks the configuration for construction-time errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be at least 1, got %d", c.PoolSize)
	}
	if _, err := resolver.ParseFamily(c.IPFamily); err != nil {
		return err
	}
	switch c.Strategy.Kind {
	case "", "greedy":
	case "conservative":
		if c.Strategy.Multiplier != 0 && c.Strategy.Multiplier < 1 {
			return fmt.Errorf("config: strategy multiplier must be >= 1, got %g", c.Strategy.Multiplier)
		}
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy.Kind)
	}
	if c.LogLevel != "" {
		if _, err := log.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLogLevel pushes the configured gate level to the installed logger.
func (c *Config) ApplyLogLevel() {
	if c.LogLevel == "" {
		return
	}
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
}

// ConnectorConfig converts to the connector construction options.
func (c *Config) ConnectorConfig() connector.Config {
	family, _ := resolver.ParseFamily(c.IPFamily)
	return connector.Config{
		Host:             c.Host,
		Port:             c.Port,
		ResolveTimeout:   c.ResolveTimeout,
		ConnectTimeout:   c.ConnectTimeout,
		OperationTimeout: c.OperationTimeout,
		Family:           family,
	}
}

// TLSOptions converts the TLS section.
func (c *Config) TLSOptions() stream.TLSOptions {
	verify := true
	if c.TLS.Verify != nil {
		verify = *c.TLS.Verify
	}
	return stream.TLSOptions{
		UpstreamHost:       c.TLS.UpstreamHost,
		InsecureSkipVerify: !verify,
	}
}

// HTTPOptions converts the HTTP section.
func (c *Config) HTTPOptions() stream.HTTPOptions {
	return stream.HTTPOptions{
		HeaderLimit: c.HTTP.HeaderLimit,
		BodyLimit:   c.HTTP.BodyLimit,
	}
}

// BuildStrategy instantiates the configured refill strategy.
func BuildStrategy[S stream.Transport](c *Config) (pool.Strategy[S], error) {
	switch c.Strategy.Kind {
	case "", "greedy":
		return pool.Greedy[S]{}, nil
	case "conservative":
		return pool.NewConservative[S](c.Strategy.InitialDelay, c.Strategy.Multiplier)
	}
	return nil, fmt.Errorf("config: unknown strategy %q", c.Strategy.Kind)
}

// BuildTCPPool assembles a TCP pool from the configuration.
func BuildTCPPool(c *Config) (*pool.Pool[*stream.TCPSocket], error) {
	st, err := BuildStrategy[*stream.TCPSocket](c)
	if err != nil {
		return nil, err
	}
	return pool.New[*stream.TCPSocket](connector.NewTCP(c.ConnectorConfig()), c.PoolSize, c.IdleTimeout, st)
}

// BuildUDPPool assembles a UDP pool.
func BuildUDPPool(c *Config) (*pool.Pool[*stream.UDPSocket], error) {
	st, err := BuildStrategy[*stream.UDPSocket](c)
	if err != nil {
		return nil, err
	}
	return pool.New[*stream.UDPSocket](connector.NewUDP(c.ConnectorConfig()), c.PoolSize, c.IdleTimeout, st)
}

// BuildTLSPool assembles a TLS pool.
func BuildTLSPool(c *Config) (*pool.Pool[*stream.TLSSocket], error) {
	st, err := BuildStrategy[*stream.TLSSocket](c)
	if err != nil {
		return nil, err
	}
	conn := connector.NewTLS(c.ConnectorConfig(), c.TLSOptions())
	return pool.New[*stream.TLSSocket](conn, c.PoolSize, c.IdleTimeout, st)
}

// BuildHTTPPool assembles an HTTP-over-TCP pool.
func BuildHTTPPool(c *Config) (*pool.Pool[*stream.HTTPSocket], error) {
	st, err := BuildStrategy[*stream.HTTPSocket](c)
	if err != nil {
		return nil, err
	}
	conn := connector.NewHTTP(c.ConnectorConfig(), c.HTTPOptions())
	return pool.New[*stream.HTTPSocket](conn, c.PoolSize, c.IdleTimeout, st)
}

// BuildHTTPSPool assembles an HTTP-over-TLS pool.
func BuildHTTPSPool(c *Config) (*pool.Pool[*stream.HTTPSocket], error) {
	st, err := BuildStrategy[*stream.HTTPSocket](c)
	if err != nil {
		return nil, err
	}
	conn := connector.NewHTTPS(c.ConnectorConfig(), c.TLSOptions(), c.HTTPOptions())
	return pool.New[*stream.HTTPSocket](conn, c.PoolSize, c.IdleTimeout, st)
}
