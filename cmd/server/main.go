package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/calebmassey/infra-provisioner/internal/api"
	"github.com/calebmassey/infra-provisioner/internal/config"
	"github.com/calebmassey/infra-provisioner/internal/generator"
	"github.com/calebmassey/infra-provisioner/internal/llm"
	"github.com/calebmassey/infra-provisioner/internal/policy"
	"github.com/calebmassey/infra-provisioner/internal/publisher"
	"github.com/calebmassey/infra-provisioner/internal/service"
	"github.com/calebmassey/infra-provisioner/internal/storage/sql"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Fatalf("Failed to create data directory: %v", err)
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Load the organizational policy ruleset up front so a broken ruleset
	// fails the process instead of the first request.
	policies := policy.NewStore(cfg.Policy.Path)
	if _, err := policies.Load(); err != nil {
		log.Fatalf("Failed to load policy ruleset: %v", err)
	}

	// Initialize the completion service client
	parser, err := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.Anthropic.APIKey,
		Model:   cfg.Anthropic.Model,
		BaseURL: cfg.Anthropic.BaseURL,
		Timeout: cfg.Anthropic.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize completion client: %v", err)
	}

	// Initialize the artifact generator
	gen, err := generator.New(policies, generator.WithFormatter(&generator.ExecFormatter{
		Binary:  cfg.Formatter.Binary,
		Timeout: cfg.Formatter.Timeout,
	}))
	if err != nil {
		log.Fatalf("Failed to initialize generator: %v", err)
	}

	// Initialize the pull request publisher
	pub, err := publisher.NewGitHub(publisher.Config{
		Token:      cfg.GitHub.Token,
		Owner:      cfg.GitHub.Owner,
		Repository: cfg.GitHub.Repository,
		BaseBranch: cfg.GitHub.BaseBranch,
	})
	if err != nil {
		log.Fatalf("Failed to initialize publisher: %v", err)
	}

	// Initialize the lifecycle controller and its worker pool
	svc := service.New(service.Config{
		Store:     store,
		Policies:  policies,
		Parser:    parser,
		Generator: gen,
		Publisher: pub,
		Workers:   cfg.Worker.Concurrency,
		QueueSize: cfg.Worker.QueueSize,
	})
	svc.Start()

	// Create router
	router := api.NewRouter(store, svc, cfg.Auth.BootstrapAPIKey)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting Infrastructure Provisioner on http://%s", cfg.Server.Addr())
	log.Printf("Press Ctrl+C to stop")

	// Start server in goroutine
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Let in-flight provisioning runs finish before exiting
	svc.Stop()

	log.Println("Server stopped")
}
