package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/EternisAI/silo-hub/internal/daemon"
	"github.com/EternisAI/silo-hub/internal/tls"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	defaultHubURL           = "http://localhost:8080"
	defaultDiscoveryTimeout = 5 * time.Second
)

type Config struct {
	Log       LogConfig
	Daemon    daemon.Config
	TLS       tls.Config `mapstructure:"tls"`
	Discovery DiscoveryConfig
	Metrics   MetricsConfig
}

type DiscoveryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	// Port serves /health and /metrics; 0 disables the listener.
	Port uint `mapstructure:"port"`
}

var (
	config Config

	// discoveredURL is used when daemon.hub_url is empty.
	discoveredMu  sync.RWMutex
	discoveredURL string
)

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", "text")
	viper.SetDefault("daemon.spawn_cooldown", daemon.DefaultSpawnCooldown)
	viper.SetDefault("daemon.spawn_timeout", daemon.DefaultSpawnTimeout)
	viper.SetDefault("daemon.backoff_base", daemon.DefaultBackoffBase)
	viper.SetDefault("daemon.backoff_max", daemon.DefaultBackoffMax)
	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.timeout", defaultDiscoveryTimeout)
}

// configureViper registers defaults and env bindings. A nested key such as
// daemon.spawn_cooldown is read from DAEMON_SPAWN_COOLDOWN.
func configureViper() {
	setDefaults()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-daemon")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("daemon.hub_url", "SILO_HUB_URL")
}

func InitConfig() {
	_ = godotenv.Load()

	configureViper()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

// loadDaemonConfig re-reads the daemon section; viper keeps the file in sync
// with disk while WatchConfig is active. The whole tree is decoded because
// UnmarshalKey skips env overrides of nested keys.
func loadDaemonConfig() (daemon.Config, error) {
	var full Config
	if err := viper.Unmarshal(&full); err != nil {
		return daemon.Config{}, fmt.Errorf("failed to decode daemon config: %w", err)
	}
	cfg := full.Daemon
	cfg.HubURL = resolveHubURL(cfg.HubURL)
	return cfg, nil
}

func resolveHubURL(configured string) string {
	if configured != "" {
		return configured
	}
	discoveredMu.RLock()
	defer discoveredMu.RUnlock()
	if discoveredURL != "" {
		return discoveredURL
	}
	return defaultHubURL
}

func setDiscoveredURL(url string) {
	discoveredMu.Lock()
	discoveredURL = url
	discoveredMu.Unlock()
}

// saveHubURLToConfig writes daemon.hub_url into the YAML file at path,
// creating the file when it does not exist.
func saveHubURLToConfig(path, hubURL string) error {
	cfg := map[string]interface{}{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	daemonCfg, ok := cfg["daemon"].(map[string]interface{})
	if !ok {
		daemonCfg = make(map[string]interface{})
		cfg["daemon"] = daemonCfg
	}
	daemonCfg["hub_url"] = hubURL

	updated, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	comment := "# Hub discovered on " + time.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(comment+string(updated)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
