package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EternisAI/silo-hub/internal/api/http/handler"
	"github.com/EternisAI/silo-hub/internal/daemon"
	"github.com/EternisAI/silo-hub/internal/discovery"
	"github.com/EternisAI/silo-hub/internal/metrics"
	hubtls "github.com/EternisAI/silo-hub/internal/tls"
	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
)

var AppVersion string

func main() {
	InitConfig()

	if len(os.Args) > 1 && os.Args[1] == "discover" {
		if err := runDiscover(os.Args[2:]); err != nil {
			slog.Error("Discovery failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("Silo Daemon", "version", AppVersion)

	if config.Daemon.HubURL == "" && config.Discovery.Enabled {
		if url, ok := discovery.Discover(context.Background(), config.Discovery.Timeout); ok {
			setDiscoveredURL(url)
		} else {
			slog.Warn("Hub not discovered, using default URL", "url", defaultHubURL)
		}
	}

	dialer := daemon.WSDialer{}
	if config.TLS.Enabled {
		tlsConfig, err := hubtls.LoadClientConfig(config.TLS)
		if err != nil {
			slog.Error("Failed to load TLS config", "error", err)
			os.Exit(1)
		}
		dialer.TLSConfig = tlsConfig
	}

	reg := prometheus.NewRegistry()

	watcher := daemon.NewWatcher(daemon.Options{
		Load:    loadDaemonConfig,
		Dialer:  dialer,
		Metrics: metrics.NewDaemon(reg),
	})
	if err := watcher.Start(); err != nil {
		slog.Error("Failed to start daemon watcher", "error", err)
		os.Exit(1)
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed", "file", e.Name)
		if err := watcher.Reload(); err != nil {
			slog.Error("Failed to reload daemon config", "error", err)
		}
	})
	if viper.ConfigFileUsed() != "" {
		viper.WatchConfig()
	}

	var server *http.Server
	if config.Metrics.Port > 0 {
		gin.SetMode(gin.ReleaseMode)
		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.GET("/health", handler.NewHealthHandler(AppVersion).Check)
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

		server = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", config.Metrics.Port),
			Handler: engine,
		}
		go func() {
			slog.Info("Starting metrics server", "address", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range quit {
		if sig == syscall.SIGHUP {
			slog.Info("Received SIGHUP, reloading config")
			if err := viper.ReadInConfig(); err != nil {
				slog.Warn("Failed to re-read config file", "error", err)
			}
			if err := watcher.Reload(); err != nil {
				slog.Error("Failed to reload daemon config", "error", err)
			}
			continue
		}
		slog.Info("Received shutdown signal", "signal", sig)
		break
	}

	watcher.Stop()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}
	slog.Info("Shutdown complete")
}
