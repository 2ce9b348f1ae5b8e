package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure shared by the relay,
// worker and toolhost binaries.
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Providers    []ProviderConfig   `json:"providers" yaml:"providers"`
	Oracle       OracleConfig       `json:"oracle" yaml:"oracle"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Workers      []WorkerConfig     `json:"workers" yaml:"workers"`
	ToolHost     ToolHostConfig     `json:"toolhost" yaml:"toolhost"`
	Records      RecordsConfig      `json:"records" yaml:"records"`
	Rules        RulesConfig        `json:"rules" yaml:"rules"`
	Gateway      GatewayConfig      `json:"gateway" yaml:"gateway"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
}

type ServerConfig struct {
	Port      int    `json:"port" yaml:"port"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
	// PublicURL is advertised on the relay's agent card.
	PublicURL string `json:"public_url,omitempty" yaml:"public_url,omitempty"`
}

type ProviderConfig struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Models   []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	Timeout  Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OracleConfig tunes the decision oracle built on top of the providers.
type OracleConfig struct {
	Model       string   `json:"model" yaml:"model"`
	Temperature float64  `json:"temperature" yaml:"temperature"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	Fallbacks   []string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

type OrchestratorConfig struct {
	DefaultWorker string   `json:"default_worker" yaml:"default_worker"`
	WorkerTimeout Duration `json:"worker_timeout" yaml:"worker_timeout"`
	MaxRetries    int      `json:"max_retries" yaml:"max_retries"`
}

// WorkerConfig describes one worker role. The relay reads ID, Address,
// Transport and Description; the worker process reads everything.
type WorkerConfig struct {
	ID            string       `json:"id" yaml:"id"`
	Address       string       `json:"address" yaml:"address"`
	Transport     string       `json:"transport" yaml:"transport"`
	Description   string       `json:"description" yaml:"description"`
	Port          int          `json:"port" yaml:"port"`
	GRPCPort      int          `json:"grpc_port,omitempty" yaml:"grpc_port,omitempty"`
	Instructions  string       `json:"instructions" yaml:"instructions"`
	MaxIterations int          `json:"max_iterations" yaml:"max_iterations"`
	Builtin       []string     `json:"builtin,omitempty" yaml:"builtin,omitempty"`
	Remote        []RemoteTool `json:"remote,omitempty" yaml:"remote,omitempty"`
	MCP           []MCPServer  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

type RemoteTool struct {
	Name        string `json:"name" yaml:"name"`
	Address     string `json:"address" yaml:"address"`
	Description string `json:"description" yaml:"description"`
}

type MCPServer struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// ToolHostConfig configures the standalone tool server.
type ToolHostConfig struct {
	Port    int      `json:"port" yaml:"port"`
	Builtin []string `json:"builtin" yaml:"builtin"`
}

// RecordsConfig selects the dataset behind the record query tools.
// Driver is "sqlite" (CSV loaded into memory) or "postgres".
type RecordsConfig struct {
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn" yaml:"dsn"`
	CSVPath  string `json:"csv_path" yaml:"csv_path"`
	Table    string `json:"table" yaml:"table"`
	IDColumn string `json:"id_column" yaml:"id_column"`
	MaxRows  int    `json:"max_rows" yaml:"max_rows"`
}

type RulesConfig struct {
	Path string `json:"path" yaml:"path"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack" yaml:"slack"`
	Discord DiscordGatewayConfig `json:"discord" yaml:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
	AppToken string `json:"app_token" yaml:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"bot_token" yaml:"bot_token"`
}

type RedisConfig struct {
	URL       string `json:"url" yaml:"url"`
	Stream    string `json:"stream" yaml:"stream"`
	MaxLength int64  `json:"max_length" yaml:"max_length"`
}

// Defaults applied by Load when a value is left empty.
const (
	DefaultWorkerTimeout = 60 * time.Second
	DefaultOracleTimeout = 30 * time.Second
	DefaultMaxIterations = 10
	DefaultPort          = 8100
)

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON or YAML config file (by extension), substitutes
// environment variable references and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes raw config bytes. ext selects the format: ".yaml"/".yml"
// decode as YAML, anything else as JSON.
func Parse(data []byte, ext string) (*Config, error) {
	resolved := expandEnv(string(data))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(resolved), &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = Duration(DefaultOracleTimeout)
	}
	if c.Orchestrator.WorkerTimeout == 0 {
		c.Orchestrator.WorkerTimeout = Duration(DefaultWorkerTimeout)
	}
	if c.Orchestrator.DefaultWorker == "" && len(c.Workers) > 0 {
		c.Orchestrator.DefaultWorker = c.Workers[0].ID
	}
	for i := range c.Workers {
		w := &c.Workers[i]
		if w.Transport == "" {
			w.Transport = "http"
		}
		if w.MaxIterations <= 0 {
			w.MaxIterations = DefaultMaxIterations
		}
	}
	if c.Records.Table == "" {
		c.Records.Table = "data"
	}
	if c.Records.IDColumn == "" {
		c.Records.IDColumn = "id"
	}
	if c.Records.MaxRows <= 0 {
		c.Records.MaxRows = 500
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "relay:events"
	}
	if c.Redis.MaxLength <= 0 {
		c.Redis.MaxLength = 10000
	}
}

// Validate checks the invariants the worker registry depends on.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if w.ID == "" {
			return fmt.Errorf("config: worker without id")
		}
		if seen[w.ID] {
			return fmt.Errorf("config: duplicate worker id %q", w.ID)
		}
		seen[w.ID] = true
		switch w.Transport {
		case "http", "grpc":
		default:
			return fmt.Errorf("config: worker %q: unknown transport %q", w.ID, w.Transport)
		}
	}
	if c.Orchestrator.DefaultWorker != "" && !seen[c.Orchestrator.DefaultWorker] {
		return fmt.Errorf("config: default worker %q is not configured", c.Orchestrator.DefaultWorker)
	}
	return nil
}

// Worker returns the worker entry with the given id.
func (c *Config) Worker(id string) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}
