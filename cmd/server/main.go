package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crms/internal/audit"
	"crms/internal/auth"
	"crms/internal/httpapi"
	"crms/internal/ingestion"
	"crms/internal/marks"
	"crms/internal/results"
	"crms/internal/shared"
	"crms/internal/store"
)

func main() {
	log.Println("INFO: Starting Result Management Backend...")

	if err := shared.LoadEnv(".env"); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 1. Connect storage
	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to MongoDB: %v", err)
	}
	defer shared.DisconnectMongoDB(client)

	st := store.New(client, db)
	if err := st.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("FATAL: Failed to create indexes: %v", err)
	}

	// 2. Wire services
	auditor := audit.NewRecorder(st)
	authSvc := auth.NewService(st, auditor, cfg.Security.JWTSecret,
		time.Duration(cfg.Security.JWTExpirationHours)*time.Hour)
	marksSvc := marks.NewService(st, auditor)
	resultsSvc := results.NewService(st, auditor)
	ingestionSvc := ingestion.NewService(st, auditor)

	api := httpapi.NewServer(cfg, st, authSvc, marksSvc, resultsSvc, ingestionSvc, auditor)

	// 3. Configure Server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Start Server in a Goroutine
	go func() {
		log.Printf("INFO: API listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: HTTP server error: %v", err)
		}
	}()

	// 5. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("INFO: Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: forced shutdown: %v", err)
	}
	log.Println("INFO: Server stopped.")
}
