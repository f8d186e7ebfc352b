// Command governd runs the trust-native agent governance core: identity,
// trust, ledger, and policy, exposed over HTTP and newline-delimited JSON
// on stdin/stdout.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"trustcore/bindings/httpapi"
	"trustcore/bindings/stdio"
	"trustcore/config"
	"trustcore/identity"
	"trustcore/ledger"
	"trustcore/observability/logging"
	telemetry "trustcore/observability/otel"
	"trustcore/storage"
	"trustcore/trust"
)

func main() {
	var cfgPath string
	var stdioMode bool
	flag.StringVar(&cfgPath, "config", "trustcore.toml", "path to governd configuration")
	flag.BoolVar(&stdioMode, "stdio", false, "serve the newline-delimited JSON loop on stdin/stdout instead of HTTP")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	slogger := logging.Setup("governd", env)
	logger := log.New(os.Stdout, "governd ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	otlpEndpoint := strings.TrimSpace(cfg.OtelEndpoint)
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "governd",
		Environment: cfg.Environment,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	root, err := storage.OpenRoot(cfg.WebRoot)
	if err != nil {
		logger.Fatalf("open state root: %v", err)
	}

	backend, err := storage.ParseBackend(cfg.Backend)
	if err != nil {
		logger.Fatalf("parse backend: %v", err)
	}

	kv, closeKV, err := openKV(backend, root)
	if err != nil {
		logger.Fatalf("open storage backend: %v", err)
	}
	defer closeKV()

	identityStore, err := identity.NewStore(kv)
	if err != nil {
		logger.Fatalf("init identity store: %v", err)
	}
	trustEngine := trust.NewEngine(kv, nil)
	trustEngine.SetRoot(root)
	rateLimiter := ledger.NewRateLimiter(0, cfg.RateLimitBurst)
	ledgerEngine := ledger.NewEngine(kv, rateLimiter, nil)
	ledgerEngine.SetRoot(root)

	slogger.Info("governance core ready", "backend", string(backend), "root", root.Path, "default_preset", cfg.DefaultPreset)

	if stdioMode {
		loop := stdio.NewLoop(stdio.Config{Identity: identityStore, Trust: trustEngine, Ledger: ledgerEngine})
		if err := loop.Run(os.Stdin, os.Stdout); err != nil {
			logger.Fatalf("stdio loop: %v", err)
		}
		return
	}

	srv := httpapi.New(httpapi.Config{Identity: identityStore, Trust: trustEngine, Ledger: ledgerEngine})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		logger.Printf("listening on http://%s", listener.Addr())
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("listen and serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openKV(backend storage.Backend, root *storage.Root) (storage.KV, func(), error) {
	switch backend {
	case storage.BackendFallback:
		return storage.NewMemoryKV(), func() {}, nil
	default:
		db, err := storage.SQLiteDB(root.LedgerDBPath())
		if err != nil {
			return nil, nil, err
		}
		return storage.NewSQLiteKV(db), func() { _ = db.Close() }, nil
	}
}
