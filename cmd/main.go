package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/virtfleet/virtfleet/config"
	"github.com/virtfleet/virtfleet/internal/compute"
	"github.com/virtfleet/virtfleet/internal/constants"
	"github.com/virtfleet/virtfleet/internal/db"
	"github.com/virtfleet/virtfleet/internal/db/repos"
	"github.com/virtfleet/virtfleet/internal/logger"
	"github.com/virtfleet/virtfleet/internal/services"
	"github.com/virtfleet/virtfleet/pkg/api/v1/handlers"
	"github.com/virtfleet/virtfleet/pkg/api/v1/routes"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()
	logger.InitializeAndConfigure()

	database, err := db.New(db.Options{
		Host:     config.GetEnv("DB_HOST", db.DefaultHost),
		User:     config.GetEnv("DB_USER", db.DefaultUser),
		Password: config.GetEnv("DB_PASSWORD", db.DefaultPassword),
		DBName:   config.GetEnv("DB_NAME", db.DefaultDBName),
		Port:     config.GetEnvAsInt("DB_PORT", db.DefaultPort),
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	resolver, err := compute.LoadConfigResolver(config.GetEnv(constants.EnvGatewayConfig, "gateways.json"))
	if err != nil {
		logger.Fatalf("Failed to load gateway configuration: %v", err)
	}

	instanceRepo := repos.NewInstanceRepository(database)
	historyRepo := repos.NewHistoryRepository(database)

	lifecycle := services.NewLifecycleService(instanceRepo, historyRepo)
	heartbeat := services.NewHeartbeatService(lifecycle, instanceRepo,
		config.GetEnvAsDuration(constants.EnvStallTimeout, services.DefaultStallTimeout))
	dispatcher := services.NewHaltDispatcher(lifecycle, instanceRepo, resolver,
		config.GetEnvAsInt(constants.EnvHaltWorkers, services.DefaultHaltWorkers),
		config.GetEnvAsDuration(constants.EnvHaltTimeout, services.DefaultHaltTimeout))
	reconciler := services.NewReconciler(lifecycle, heartbeat, dispatcher,
		config.GetEnvAsDuration(constants.EnvReconcileInterval, services.DefaultReconcileInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconciler.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName: "virtfleet",
	})
	routes.RegisterRoutes(app, handlers.NewAPIHandler(lifecycle, heartbeat, dispatcher))

	// Graceful shutdown: stop taking requests, then let the reconciler
	// finish its in-flight cycle.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Received %s, shutting down", sig)
		if err := app.Shutdown(); err != nil {
			logger.Errorf("Server shutdown failed: %v", err)
		}
	}()

	port := config.GetEnv(constants.EnvServerPort, routes.DefaultPort)
	logger.Infof("Starting virtfleet API server on :%s", port)
	if err := app.Listen(":" + port); err != nil {
		logger.Errorf("Server stopped: %v", err)
	}

	cancel()
	reconciler.Stop()
	logger.Info("Shutdown complete")
}
