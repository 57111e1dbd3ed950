package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/epccore/internal/auth"
	cfg "github.com/thrillee/epccore/internal/config"
	"github.com/thrillee/epccore/internal/logging"
	apihandlers "github.com/thrillee/epccore/internal/managerapi/handlers"
	"github.com/thrillee/epccore/internal/persist"
)

func main() {
	hashKey := flag.String("hash-key", "", "print the bcrypt hash of the given API key for API_KEY_HASH and exit")
	flag.Parse()
	if *hashKey != "" {
		hash, err := auth.HashAPIKey(*hashKey)
		if err != nil {
			log.Fatalf("Hash error: %v", err)
		}
		fmt.Println(hash)
		return
	}

	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// --- Config & Logging ---
	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	logger := logging.Setup(config.LogLevel)

	// --- Checkpoint Store ---
	if config.Persist.Backend == persist.BackendMemory {
		slog.Warn("Memory backend selected; the API only sees checkpoints of another process through postgres or redis")
	}
	blobs, err := persist.Open(appCtx, config.Persist, logger)
	if err != nil {
		slog.Error("Checkpoint store connect error", slog.Any("error", err))
		os.Exit(1)
	}
	defer blobs.Close()

	// --- Gin Router Setup ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		_, err := blobs.Load(c.Request.Context())
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "store": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	apiV1 := router.Group("/api/v1")
	apihandlers.SetupRoutes(apiV1, blobs, config.ManagerAPI.APIKeyHash)

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:         config.ManagerAPI.Addr,
		Handler:      router,
		ReadTimeout:  config.ManagerAPI.ReadTimeout,
		WriteTimeout: config.ManagerAPI.WriteTimeout,
		IdleTimeout:  config.ManagerAPI.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	go func() {
		slog.Info("Starting Management API Server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Management API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	// --- Wait for Shutdown ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received for Management API server.")

	// --- Graceful Shutdown ---
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Management API server forced to shutdown", slog.Any("error", err))
	}

	slog.Info("Management API server stopped.")
}
