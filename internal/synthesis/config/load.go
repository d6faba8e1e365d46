package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/envutil"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		return d.parse(u)
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar (line %d)", node.Line)
	}
	if node.Tag == "!!int" {
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) parse(s string) error {
	if strings.TrimSpace(s) == "" {
		d.Duration = 0
		return nil
	}
	dd, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   2 << 20,
		},
		Engine: EngineConfig{
			Backend:       "mock",
			CallTimeout:   Duration{Duration: 60 * time.Second},
			MaxConcurrent: 3,
			Temperature:   0.4,
		},
		Backends: []BackendConfig{
			{Name: "mock", Type: "mock", Mock: MockConfig{Mode: "json"}},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			TTL:           Duration{Duration: time.Hour},
			MaxEntries:    1024,
			SweepInterval: Duration{Duration: 5 * time.Minute},
			Redis:         RedisConfig{Prefix: "synthesis:"},
		},
	}
}

// Default returns the built-in configuration after normalization.
func Default() *Config {
	cfg := defaultConfig()
	_ = normalize(cfg)
	return cfg
}

// Load reads SYNTH_CONFIG_PATH (or ./config/config.{json,yaml,yml}), applies env overrides and
// validates the result.
func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := envutil.String("SYNTH_CONFIG_PATH", "")
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
				p := filepath.Join(wd, "config", name)
				if _, err := os.Stat(p); err == nil {
					cfgPath = p
					break
				}
			}
		}
	}

	if cfgPath != "" {
		if err := LoadFile(cfgPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes path into cfg, choosing YAML or JSON by extension. Fields absent from the file
// keep the values already in cfg.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.HTTP.Addr = envutil.String("SYNTH_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Engine.Backend = envutil.String("SYNTH_BACKEND", cfg.Engine.Backend)
	cfg.Engine.MaxConcurrent = envutil.Int("SYNTH_MAX_CONCURRENT", cfg.Engine.MaxConcurrent)
	cfg.Engine.CallTimeout.Duration = envutil.Seconds("SYNTH_CALL_TIMEOUT_SECONDS", cfg.Engine.CallTimeout.Duration)
	cfg.Cache.Backend = envutil.String("SYNTH_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.TTL.Duration = envutil.Seconds("SYNTH_CACHE_TTL_SECONDS", cfg.Cache.TTL.Duration)
	cfg.Cache.MaxEntries = envutil.Int("SYNTH_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = envutil.String("REDIS_PASSWORD", cfg.Cache.Redis.Password)

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if strings.TrimSpace(b.APIKey) != "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(b.Type)) {
		case "openai":
			b.APIKey = envutil.String("OPENAI_API_KEY", "")
		case "gemini":
			b.APIKey = envutil.String("GEMINI_API_KEY", "")
		}
	}
}

func normalize(cfg *Config) error {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 2 << 20
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}

	if cfg.Engine.MaxConcurrent <= 0 {
		cfg.Engine.MaxConcurrent = 3
	}
	if cfg.Engine.CallTimeout.Duration <= 0 {
		cfg.Engine.CallTimeout = Duration{Duration: 60 * time.Second}
	}
	if cfg.Engine.Temperature < 0 || cfg.Engine.Temperature > 2 {
		return fmt.Errorf("engine.temperature must be within [0,2] (got %v)", cfg.Engine.Temperature)
	}

	if len(cfg.Backends) == 0 {
		return errors.New("config must define at least one backend")
	}
	seen := map[string]bool{}
	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		b.Name = strings.TrimSpace(b.Name)
		b.Type = strings.ToLower(strings.TrimSpace(b.Type))
		if b.Name == "" {
			return errors.New("backend name is required")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		seen[b.Name] = true
		if b.MaxRetries < 0 {
			return fmt.Errorf("backend %q invalid max_retries", b.Name)
		}
		b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")

		switch b.Type {
		case "mock":
			if b.Mock.Mode == "" {
				b.Mock.Mode = "json"
			}
		case "openai_http", "oai_http":
			b.Type = "oai_http"
			if b.BaseURL == "" {
				return fmt.Errorf("backend %q (oai_http) missing base_url", b.Name)
			}
			if b.ChatCompletionsPath == "" {
				b.ChatCompletionsPath = "/v1/chat/completions"
			}
			b.JSONSchema.Mode = strings.ToLower(strings.TrimSpace(b.JSONSchema.Mode))
			switch b.JSONSchema.Mode {
			case "", "auto":
				b.JSONSchema.Mode = "auto"
			case "none", "guided_json", "prompt":
			default:
				return fmt.Errorf("backend %q invalid json_schema.mode=%q", b.Name, b.JSONSchema.Mode)
			}
			if b.JSONSchema.MaxPromptBytes <= 0 {
				b.JSONSchema.MaxPromptBytes = 64 << 10
			}
		case "openai":
			if b.BaseURL == "" {
				b.BaseURL = "https://api.openai.com"
			}
			if b.Model == "" {
				b.Model = "gpt-4o-mini"
			}
		case "gemini":
			if b.Model == "" {
				b.Model = "gemini-2.0-flash"
			}
		default:
			return fmt.Errorf("backend %q has unsupported type %q", b.Name, b.Type)
		}
		if b.Type != "mock" && b.Timeout.Duration <= 0 {
			b.Timeout = Duration{Duration: 60 * time.Second}
		}
	}
	if _, ok := cfg.BackendByName(cfg.Engine.Backend); !ok {
		return fmt.Errorf("engine.backend %q does not name a configured backend", cfg.Engine.Backend)
	}

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	switch cfg.Cache.Backend {
	case "":
		cfg.Cache.Backend = "memory"
	case "memory", "none":
	case "redis":
		if strings.TrimSpace(cfg.Cache.Redis.Addr) == "" {
			return errors.New("cache.backend=redis requires cache.redis.addr (or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("invalid cache.backend=%q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL.Duration <= 0 {
		cfg.Cache.TTL = Duration{Duration: time.Hour}
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 1024
	}
	if cfg.Cache.SweepInterval.Duration <= 0 {
		cfg.Cache.SweepInterval = Duration{Duration: 5 * time.Minute}
	}
	if cfg.Cache.Redis.Prefix == "" {
		cfg.Cache.Redis.Prefix = "synthesis:"
	}
	return nil
}
