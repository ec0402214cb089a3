package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edu-data/mas/internal/adapter/inference"
	"github.com/edu-data/mas/internal/adapter/media"
	"github.com/edu-data/mas/internal/bus"
	"github.com/edu-data/mas/internal/config"
	"github.com/edu-data/mas/internal/hub"
	"github.com/edu-data/mas/internal/pipeline/agents"
	"github.com/edu-data/mas/internal/policy"
	"github.com/edu-data/mas/internal/service"
	"github.com/edu-data/mas/internal/store"
	transporthttp "github.com/edu-data/mas/internal/transport/http"
	"github.com/edu-data/mas/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting analysis service...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Media service: %s", cfg.MediaURL)
	log.Printf("Inference gateway: %s", cfg.InferenceURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize upstream clients
	extractor := media.NewExtractor(cfg.MediaURL, cfg.RunTimeout)
	inferenceClient := inference.NewClient(cfg.InferenceURL, cfg.InferenceAPIKey, cfg.RunTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Build and validate the agent registry
	registry, err := agents.DefaultRegistry(extractor, inferenceClient)
	if err != nil {
		log.Fatalf("Failed to build agent registry: %v", err)
	}

	// Initialize event bus
	eventBus := bus.New(cfg.TimelineWindow)

	// Initialize service
	svc := service.New(db, eventBus, registry, cfg, policyEngine)

	// Initialize WebSocket hub and server
	connectionHub := hub.NewHub()
	go connectionHub.Run()
	wsServer := ws.NewServer(cfg, connectionHub, svc, eventBus)

	// Create HTTP server, REST and WebSocket on one port
	e := transporthttp.NewServer(svc, eventBus, cfg.APIKey)
	e.GET("/ws", wsServer.HandleWebSocket)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Analysis service stopped")
}
