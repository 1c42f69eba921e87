// Package config loads application configuration from defaults, an optional
// YAML file, and BRIEFER_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"briefer/internal/mcp"
)

// Config holds all settings for the briefer process.
type Config struct {
	Server Server `mapstructure:"server"`
	Agents Agents `mapstructure:"agents"`
	LLM    LLM    `mapstructure:"llm"`
	Gotify Gotify `mapstructure:"gotify"`

	// MCP maps server name to the command that launches it over stdio.
	MCP map[string]mcp.ProcessConfig `mapstructure:"mcp"`
}

// Server holds HTTP server settings.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Agents holds agent definition and run storage locations.
type Agents struct {
	File    string `mapstructure:"file"`
	DataDir string `mapstructure:"data_dir"`
}

// LLM holds inference backend settings.
type LLM struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// Gotify holds push notification settings. Both fields empty disables
// notifications entirely.
type Gotify struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// Addr returns the host:port the HTTP server binds to.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)

	v.SetDefault("agents.file", "agents.yaml")
	v.SetDefault("agents.data_dir", "data/agents")

	v.SetDefault("llm.model", "qwen3:8b")
	v.SetDefault("llm.base_url", "http://localhost:11434")

	v.SetDefault("gotify.url", "")
	v.SetDefault("gotify.token", "")
}

// Load reads configuration from defaults, a config file, and the environment.
// Environment variables use the BRIEFER_ prefix with underscores for nesting,
// e.g. BRIEFER_SERVER_PORT=9000.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BRIEFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("briefer")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/briefer")
	}

	// A missing file is fine with default search paths; an explicit path
	// that cannot be read is not.
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || configPath != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Agents.File == "" {
		errs = append(errs, "agents.file is required")
	}
	if cfg.Agents.DataDir == "" {
		errs = append(errs, "agents.data_dir is required")
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, "llm.model is required")
	}
	if (cfg.Gotify.URL == "") != (cfg.Gotify.Token == "") {
		errs = append(errs, "gotify.url and gotify.token must be set together")
	}
	for name, proc := range cfg.MCP {
		if proc.Command == "" {
			errs = append(errs, fmt.Sprintf("mcp.%s.command is required", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
