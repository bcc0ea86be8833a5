package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "SEADRIFT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "seadrift.db"
	defaultLogLevel     = "info"
	defaultActorName    = "seadrift"
)

// AppConfig captures runtime configuration for the replication API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	EntitiesFile string
	// ActorName is recorded as updated_by on revisions the server itself
	// writes, such as cascade tombstones.
	ActorName string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("actor.name", defaultActorName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		EntitiesFile: configViper.GetString("entities.file"),
		ActorName:    configViper.GetString("actor.name"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.EntitiesFile) == "" {
		return fmt.Errorf("entities.file is required")
	}
	if strings.TrimSpace(c.ActorName) == "" {
		return fmt.Errorf("actor.name is required")
	}
	return nil
}
