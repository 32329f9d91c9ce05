package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration, loaded from a YAML file with
// environment overrides on top.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Game struct {
		MinPlayers       int `yaml:"min_players"`
		CountdownSeconds int `yaml:"countdown_seconds"`
		GameTimeoutSec   int `yaml:"game_timeout_sec"`
		SaveTimeoutSec   int `yaml:"save_timeout_sec"`
	} `yaml:"game"`

	NATS struct {
		// URL enables the JetStream result publisher when non-empty.
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	c.Server.Port = "8080"
	c.Game.MinPlayers = 2
	c.Game.CountdownSeconds = 10
	c.Game.GameTimeoutSec = 120
	c.Game.SaveTimeoutSec = 5
	return c
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)

	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
