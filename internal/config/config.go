package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/jiejieje/alien-town/internal/memory"
	"github.com/jiejieje/alien-town/internal/world"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Providers  []ProviderConfig `json:"providers"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Database   DatabaseConfig   `json:"database"`
	Sim        SimConfig        `json:"sim"`
	Town       world.TownConfig `json:"town"`
	Residents  []ResidentConfig `json:"residents"`
	Generation GenerationConfig `json:"generation"`
	Notify     NotifyConfig     `json:"notify"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// SimConfig drives the tick loop and the cognition cycle.
type SimConfig struct {
	TickIntervalSeconds int                    `json:"tick_interval_seconds"`
	PoolSize            int                    `json:"pool_size"`
	CheckpointEvery     int64                  `json:"checkpoint_every"`
	CheckpointDir       string                 `json:"checkpoint_dir"`
	RetrieveK           int                    `json:"retrieve_k"`
	ReflectionThreshold float64                `json:"reflection_threshold"`
	MoodThreshold       float64                `json:"mood_threshold"`
	CreativeCooldown    int64                  `json:"creative_cooldown_ticks"`
	RelationDecayEvery  int64                  `json:"relation_decay_every"`
	Retrieval           memory.RetrievalConfig `json:"retrieval"`
}

// ResidentConfig seeds one agent at startup.
type ResidentConfig struct {
	Name   string   `json:"name"`
	Traits []string `json:"traits"`
	X      int      `json:"x"`
	Y      int      `json:"y"`
}

// GenerationConfig wires the creative services and the dispatcher.
type GenerationConfig struct {
	Workers            int          `json:"workers"`
	QueueSize          int          `json:"queue_size"`
	MaxFailures        int          `json:"max_failures"`
	MaxPolls           int          `json:"max_polls"`
	BackoffBaseSeconds int          `json:"backoff_base_seconds"`
	BackoffCapSeconds  int          `json:"backoff_cap_seconds"`
	PollSeconds        int          `json:"poll_seconds"`
	Liblib             LiblibConfig `json:"liblib"`
	Suno               SunoConfig   `json:"suno"`
	WebSim             WebSimConfig `json:"websim"`
}

type LiblibConfig struct {
	Enabled      bool   `json:"enabled"`
	BaseURL      string `json:"base_url"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	CheckpointID string `json:"checkpoint_id"`
}

type SunoConfig struct {
	Enabled     bool   `json:"enabled"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	Model       string `json:"model"`
	CallbackURL string `json:"callback_url"`
}

type WebSimConfig struct {
	Enabled bool   `json:"enabled"`
	OutDir  string `json:"out_dir"`
}

type NotifyConfig struct {
	Discord DiscordNotifyConfig `json:"discord"`
	Slack   SlackNotifyConfig   `json:"slack"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type SlackNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
