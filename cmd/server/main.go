package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/whoishuman/whoishuman-server-go/internal/config"
	"github.com/whoishuman/whoishuman-server-go/internal/events"
	"github.com/whoishuman/whoishuman-server-go/internal/game"
	"github.com/whoishuman/whoishuman-server-go/internal/host"
	"github.com/whoishuman/whoishuman-server-go/internal/persona"
	"github.com/whoishuman/whoishuman-server-go/internal/registry"
	"github.com/whoishuman/whoishuman-server-go/internal/server"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting whoishuman server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Text generation for AI personas
	gen, err := persona.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to initialize text generation", zap.Error(err))
	}
	if _, ok := gen.(persona.Unavailable); ok {
		logger.Warn("no LLM provider configured; personas will answer with a placeholder")
	} else {
		logger.Info("text generation initialized",
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.Model),
		)
	}

	bus := events.NewBus()

	personas := make([]game.PersonaSpec, 0, len(cfg.Game.Personas))
	for _, p := range cfg.Game.Personas {
		personas = append(personas, game.PersonaSpec{Name: p.Name, Description: p.Description})
	}

	games := registry.NewManager(registry.Options{
		HostName: cfg.Game.HostName,
		Personas: personas,
		Durations: host.Durations{
			RoundStart: cfg.Host.RoundStart,
			Discuss:    cfg.Host.Discuss,
			Warning:    cfg.Host.Warning,
			Vote:       cfg.Host.Vote,
		},
		Generator:   gen,
		Broadcaster: bus,
	}, logger)
	logger.Info("game registry initialized", zap.Int("personas", len(personas)))

	api := server.NewAPI(games, bus, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTP.Address,
		Handler: api.Handler(),
	}

	grpcServer, healthServer := server.NewGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start HTTP server
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTP.Address))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(serveErr))
			stop()
		}
	}()

	healthServer.SetServingStatus(server.GameService, healthpb.HealthCheckResponse_SERVING)
	logger.Info("whoishuman server initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.HTTP.Address),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
	)

	// Wait for termination signal
	<-ctx.Done()
	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	// Stop every host loop so no timer fires after exit
	games.Shutdown()

	grpcServer.GracefulStop()

	logger.Info("whoishuman server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
