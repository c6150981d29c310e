// Package config loads runtime settings from an optional YAML file,
// QUERYGRAPH_* environment variables and command-line overrides, in
// increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables, e.g. QUERYGRAPH_SERVER_ADDR.
const EnvPrefix = "QUERYGRAPH_"

type Config struct {
	// Schema is the path of the SDL datamodel.
	Schema string `mapstructure:"schema"`
	// Fixture is an optional JSON file seeding the in-memory store.
	Fixture    string     `mapstructure:"fixture"`
	Datasource Datasource `mapstructure:"datasource"`
	Server     Server     `mapstructure:"server"`
	Otel       Otel       `mapstructure:"otel"`
}

type Datasource struct {
	Provider     string               `mapstructure:"provider"`
	RelationMode catalog.RelationMode `mapstructure:"relationmode"`
}

type Server struct {
	Addr         string        `mapstructure:"addr"`
	Pretty       bool          `mapstructure:"pretty"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"maxbodybytes"`
	CORSOrigins  []string      `mapstructure:"corsorigins"`
}

type Otel struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("datasource.provider", "postgresql")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("otel.service", "querygraph")
}

// Load reads file (skipped when empty), then the environment, then
// overrides keyed by dotted config keys such as "server.addr".
func Load(file string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	defaults(v)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	// QUERYGRAPH_SERVER_MAXBODYBYTES -> server.maxbodybytes
	for _, env := range os.Environ() {
		key, val, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		prop := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "."))
		v.Set(strings.TrimPrefix(prop, "."), val)
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Datasource.RelationMode == "" {
		c.Datasource.RelationMode = DefaultRelationMode(c.Datasource.Provider)
	}
	mode, err := catalog.ParseRelationMode(string(c.Datasource.RelationMode))
	if err != nil {
		return fmt.Errorf("datasource.relationMode: %w", err)
	}
	c.Datasource.RelationMode = mode
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative, got %s", c.Server.Timeout)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.maxBodyBytes must not be negative, got %d", c.Server.MaxBodyBytes)
	}
	return nil
}

// DefaultRelationMode is prisma for databases without foreign keys and
// foreignKeys otherwise.
func DefaultRelationMode(provider string) catalog.RelationMode {
	if strings.EqualFold(provider, "mongodb") {
		return catalog.RelationModePrisma
	}
	return catalog.RelationModeForeignKeys
}
