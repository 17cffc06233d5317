package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WHOISHUMAN_LLM_API_KEY.
const EnvPrefix = "WHOISHUMAN"

// Config is the root server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Game    GameConfig    `mapstructure:"game"`
	Host    HostConfig    `mapstructure:"host"`
	LLM     LLMConfig     `mapstructure:"llm"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTP            HTTPConfig    `mapstructure:"http"`
	GRPC            GRPCConfig    `mapstructure:"grpc"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPConfig configures the JSON/websocket listener.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// GRPCConfig configures the gRPC health listener.
type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PersonaConfig describes one AI persona seated in every new game.
type PersonaConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
}

// GameConfig controls the roster of new games.
type GameConfig struct {
	HostName string          `mapstructure:"host_name"`
	Personas []PersonaConfig `mapstructure:"personas"`
}

// HostConfig holds the autonomous host loop timings.
type HostConfig struct {
	RoundStart time.Duration `mapstructure:"round_start"`
	Discuss    time.Duration `mapstructure:"discuss"`
	Warning    time.Duration `mapstructure:"warning"`
	Vote       time.Duration `mapstructure:"vote"`
}

// LLMConfig selects the text generation backend for AI personas.
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // openai | groq | ollama | anthropic | googleai | "" (disabled)
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
}

// DefaultPersonas is the reference roster of four AI personas.
func DefaultPersonas() []PersonaConfig {
	return []PersonaConfig{
		{Name: "Nova", Description: "curious and upbeat, asks a lot of follow-up questions"},
		{Name: "Rook", Description: "dry humor, openly skeptical of everyone"},
		{Name: "Juniper", Description: "warm and chatty, overshares small everyday details"},
		{Name: "Atlas", Description: "terse and analytical, answers in short sentences"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.address", ":8080")
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("game.host_name", "Host")
	personas := make([]map[string]any, 0, len(DefaultPersonas()))
	for _, p := range DefaultPersonas() {
		personas = append(personas, map[string]any{"name": p.Name, "description": p.Description})
	}
	v.SetDefault("game.personas", personas)

	v.SetDefault("host.round_start", 300*time.Millisecond)
	v.SetDefault("host.discuss", 30*time.Second)
	v.SetDefault("host.warning", 10*time.Second)
	v.SetDefault("host.vote", 15*time.Second)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.8)
	v.SetDefault("llm.timeout", 15*time.Second)
	v.SetDefault("llm.system_prompt", "")
}

// Load reads the YAML file at path (a missing file falls back to defaults)
// and applies WHOISHUMAN_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the game cannot run with.
func (c *Config) Validate() error {
	if len(c.Game.Personas) == 0 {
		return fmt.Errorf("game.personas: at least one AI persona is required")
	}
	for i, p := range c.Game.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("game.personas[%d]: name is required", i)
		}
	}
	if c.Host.Discuss <= 0 || c.Host.Vote <= 0 {
		return fmt.Errorf("host: discuss and vote durations must be positive")
	}
	if c.Host.RoundStart < 0 || c.Host.Warning < 0 {
		return fmt.Errorf("host: durations must not be negative")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	return nil
}
