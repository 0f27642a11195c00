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

	"outreachmail/internal/api"
	"outreachmail/internal/config"
	"outreachmail/internal/provider"
	"outreachmail/internal/store"
	"outreachmail/internal/token"

	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Postgres.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	googleClient, err := token.NewGoogleClient(&cfg.Google)
	if err != nil {
		log.Fatalf("Failed to initialize Google OAuth client: %v", err)
	}
	tokenManager := token.NewManager(googleClient, st)

	sendgrid, err := provider.NewSendGridProvider(&cfg.SendGrid)
	if err != nil {
		log.Fatalf("Failed to initialize SendGrid provider: %v", err)
	}

	providers := []provider.Provider{sendgrid}
	if cfg.SMTP.Configured() {
		smtp, err := provider.NewSMTPProvider(&cfg.SMTP)
		if err != nil {
			log.Printf("Warning: SMTP relay unavailable: %v", err)
		} else {
			providers = append(providers, smtp)
			log.Printf("SMTP relay configured as secondary provider (%s:%d)", cfg.SMTP.Host, cfg.SMTP.Port)
		}
	} else {
		log.Println("No SMTP relay configured; sends will use the primary provider only")
	}

	sender := provider.NewFailoverSender(providers...)

	router := mux.NewRouter()
	api.NewMailboxAPI(tokenManager).RegisterRoutes(router)
	api.NewEmailAPI(sender).RegisterRoutes(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("API server listening on :%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
