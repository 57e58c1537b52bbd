package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/arcway/chronicle/internal/api"
	"github.com/arcway/chronicle/internal/branchgraph"
	"github.com/arcway/chronicle/internal/config"
	"github.com/arcway/chronicle/internal/db"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/export"
	"github.com/arcway/chronicle/internal/merge"
	"github.com/arcway/chronicle/internal/middleware"
	"github.com/arcway/chronicle/internal/repository"
	"github.com/arcway/chronicle/internal/resolver"
	"github.com/arcway/chronicle/internal/versioning"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("CHRONICLE_CONFIG")
	if configPath == "" {
		configPath = "."
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Wire the versioning core
	store := repository.NewPostgresStore(conn.Pool)
	bus := events.NewBus()
	res, err := resolver.New(store, bus)
	if err != nil {
		log.Fatalf("Failed to create resolver: %v", err)
	}
	graph := branchgraph.New(store.Branches())
	service := versioning.NewService(store, graph, res, bus)
	engine := merge.NewEngine(store, graph, res, bus)

	apiHandler := api.NewHandler(service, engine)
	exportHandler := export.NewHTTPHandler(export.NewService(service, engine))

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	wrap := func(h http.Handler) http.Handler {
		return corsHandler.Handler(middleware.LoggingMiddleware(middleware.ActorMiddleware(h)))
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", wrap(apiHandler))
	mux.Handle("/export/", wrap(http.StripPrefix("/export", exportHandler)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting versioning server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
