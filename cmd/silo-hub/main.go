package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internalhttp "github.com/EternisAI/silo-hub/internal/api/http"
	"github.com/EternisAI/silo-hub/internal/db"
	"github.com/EternisAI/silo-hub/internal/discovery"
	grpcserver "github.com/EternisAI/silo-hub/internal/grpc/server"
	"github.com/EternisAI/silo-hub/internal/hub"
	"github.com/EternisAI/silo-hub/internal/messaging"
	"github.com/EternisAI/silo-hub/internal/metrics"
	"github.com/EternisAI/silo-hub/internal/presence"
	"github.com/EternisAI/silo-hub/internal/store"
	hubtls "github.com/EternisAI/silo-hub/internal/tls"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials"
)

var AppVersion string

const shutdownTimeout = 10 * time.Second

func main() {
	InitConfig()

	slog.Info("Silo Hub", "version", AppVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := metrics.NewHub(reg)

	st, err := openStore(ctx)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := hub.NewRegistry(config.Hub, hubMetrics)
	presenceService := presence.NewService(st, registry)
	router := messaging.NewRouter(st, registry, hubMetrics)
	wsHandler := hub.NewHandler(registry, presenceService, router, config.WS)
	reconciler := presence.NewReconciler(st, registry, hubMetrics, config.Reconciler.Interval, config.Reconciler.StaleAfter)

	services := &internalhttp.Services{
		Presence:  presenceService,
		Messages:  router,
		Registry:  registry,
		Websocket: wsHandler,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Version:   AppVersion,
	}

	allowOrigins := config.Http.AllowedOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	var grpcCreds credentials.TransportCredentials
	if config.TLS.Enabled {
		tlsConfig, err := hubtls.LoadServerConfig(config.TLS)
		if err != nil {
			slog.Error("Failed to load TLS config", "error", err)
			os.Exit(1)
		}
		httpServer.TLSConfig = tlsConfig
		grpcCreds = credentials.NewTLS(tlsConfig)
	}

	var grpcSrv *grpcserver.Server
	if config.Grpc.Enabled {
		grpcSrv = grpcserver.NewServer(config.Grpc.Port, grpcCreds)
	}

	var advertiser *discovery.Advertiser
	if config.Discovery.Enabled {
		advertiser = startAdvertiser(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server", "address", httpServer.Addr, "tls", config.TLS.Enabled)
		var err error
		if config.TLS.Enabled {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			grpcSrv.SetServing(true)
			if err := grpcSrv.Start(); err != nil {
				return fmt.Errorf("gRPC server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	if config.Discovery.Enabled && config.Discovery.Listen {
		g.Go(func() error {
			browser, err := discovery.NewBrowser()
			if err != nil {
				slog.Warn("mDNS listener unavailable", "error", err)
				return nil
			}
			if err := discovery.Listen(gctx, browser); err != nil {
				slog.Warn("mDNS listener stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers...")

		if advertiser != nil {
			advertiser.Stop()
		}
		if grpcSrv != nil {
			grpcSrv.SetServing(false)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}

		if grpcSrv != nil {
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}

		// Hijacked websocket connections are not covered by Shutdown.
		registry.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func openStore(ctx context.Context) (store.Store, error) {
	if !config.Database.Enabled() {
		slog.Warn("No database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}

	if err := db.RunMigrations(config.Database); err != nil {
		return nil, err
	}
	pool, err := db.InitDB(ctx, config.Database)
	if err != nil {
		return nil, err
	}
	return store.NewPostgresStore(pool), nil
}

func startAdvertiser(ctx context.Context) *discovery.Advertiser {
	advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{
		Instance: config.Discovery.Instance,
		Port:     int(config.Http.Port),
		URL:      publicURL(),
		Version:  AppVersion,
	}, discovery.NewPublisher(), discovery.NewBrowser)

	if _, err := advertiser.Start(ctx); err != nil {
		slog.Warn("Failed to advertise hub", "error", err)
		return nil
	}
	return advertiser
}

// publicURL is the configured public URL, or one built from the first
// non-loopback IPv4 address.
func publicURL() string {
	if config.Http.PublicURL != "" {
		return config.Http.PublicURL
	}

	scheme := "http"
	if config.TLS.Enabled {
		scheme = "https"
	}

	host := "localhost"
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				host = ip4.String()
				break
			}
		}
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprint(config.Http.Port)))
}
