package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/motorlog/livelink/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	// Load .env file - flexible path for both containers and local runs
	envPaths := []string{
		".env",
		"../../.env",
	}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
		)
	}

	envLoaded := false
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				envLoaded = true
				break
			}
		}
	}
	if !envLoaded {
		fmt.Println("No .env file found, using system environment variables (OK for containers)")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRedisStore,
			ProvideRegistry,
			ProvideSessionStore,
			ProvideTracker,
			ProvideTimeSeries,
			ProvideJobs,
			ProvideNotifier,
			ProvideAlertEngine,
			ProvidePipeline,
			ProvideMQTTManager,
			ProvideFirmwareClient,
			ProvideQueryEngine,
			ProvideHandler,
			ProvideRouter,
		),
		fx.Invoke(
			warmTracker,
			startHTTPServer,
			startMQTTManager,
			startRollupJobs,
			startAlertSweep,
		),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "livelink"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database or Redis) is not accessible. Check the error messages above for specific connection failures.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	// Stop application gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
