package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-hub/internal/api/http"
	"github.com/EternisAI/silo-hub/internal/db"
	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/EternisAI/silo-hub/internal/tls"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig
	Http       http.Config
	Grpc       GrpcConfig
	TLS        tls.Config `mapstructure:"tls"`
	Database   db.Config
	Hub        hub.Config
	WS         hub.HandlerConfig `mapstructure:"ws"`
	Reconciler ReconcilerConfig
	Discovery  DiscoveryConfig
}

type GrpcConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type DiscoveryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
	// Listen logs other hubs advertising on the network.
	Listen bool `mapstructure:"listen"`
}

var config Config

func setDefaults() {
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", "text")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("grpc.enabled", true)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("hub.ping_interval", hub.DefaultPingInterval)
	viper.SetDefault("hub.pong_timeout", hub.DefaultPongTimeout)
	viper.SetDefault("reconciler.interval", presence.DefaultReconcileInterval)
	viper.SetDefault("reconciler.stale_after", presence.DefaultStaleAfter)
	viper.SetDefault("discovery.enabled", true)
	viper.SetDefault("discovery.instance", "Silo Hub")
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	setDefaults()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-hub")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("database.url", "DATABASE_URL")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
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
