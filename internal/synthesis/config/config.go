package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr" yaml:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxRequestBytes   int64    `json:"max_request_bytes" yaml:"max_request_bytes"`

	// CORSOrigins lists browser origins allowed to call the API. Empty disables CORS headers.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`
}

type JSONSchemaConfig struct {
	// Mode controls how constrained output is requested from OpenAI-compatible servers.
	// - "none": never send schema hints
	// - "guided_json": send vLLM-style guided decoding fields
	// - "prompt": append the schema as a system instruction
	// - "auto": guided_json on the first attempt, prompt on retries
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	MaxPromptBytes int `json:"max_prompt_bytes,omitempty" yaml:"max_prompt_bytes,omitempty"`
}

type MockConfig struct {
	// Mode selects the canned response shape: json, fenced, truncated, prose, list, empty, error.
	Mode  string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Delay Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

type BackendConfig struct {
	Name string `json:"name" yaml:"name"`
	// Type is one of mock, oai_http, openai, gemini.
	Type  string `json:"type" yaml:"type"`
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	ChatCompletionsPath string `json:"chat_completions_path,omitempty" yaml:"chat_completions_path,omitempty"`

	// Timeout bounds a single upstream HTTP attempt; the engine applies its own call timeout on top.
	Timeout    Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	JSONSchema JSONSchemaConfig `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
	Mock       MockConfig       `json:"mock,omitempty" yaml:"mock,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

type CacheConfig struct {
	// Backend is memory, redis or none.
	Backend       string      `json:"backend" yaml:"backend"`
	TTL           Duration    `json:"ttl" yaml:"ttl"`
	MaxEntries    int         `json:"max_entries" yaml:"max_entries"`
	SweepInterval Duration    `json:"sweep_interval" yaml:"sweep_interval"`
	Redis         RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

type EngineConfig struct {
	// Backend names the entry of Backends used for synthesis.
	Backend       string   `json:"backend" yaml:"backend"`
	CallTimeout   Duration `json:"call_timeout" yaml:"call_timeout"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`
	Temperature   float64  `json:"temperature" yaml:"temperature"`
}

type Config struct {
	Env      string          `json:"env" yaml:"env"`
	HTTP     HTTPConfig      `json:"http" yaml:"http"`
	Engine   EngineConfig    `json:"engine" yaml:"engine"`
	Backends []BackendConfig `json:"backends" yaml:"backends"`
	Cache    CacheConfig     `json:"cache" yaml:"cache"`
}

// BackendByName returns the backend entry with the given name.
func (c *Config) BackendByName(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}
