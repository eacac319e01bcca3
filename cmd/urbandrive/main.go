package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jcuenca6779/urbandrive/internal/api"
	"github.com/jcuenca6779/urbandrive/internal/config"
	"github.com/jcuenca6779/urbandrive/internal/notify"
	"github.com/jcuenca6779/urbandrive/internal/reports"
	"github.com/jcuenca6779/urbandrive/internal/session"
	"github.com/jcuenca6779/urbandrive/internal/store"
	"github.com/jcuenca6779/urbandrive/internal/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	tokenStore, err := store.New(cfg.StateDir)
	if err != nil {
		log.Fatalf("Failed to open token store: %v", err)
	}

	gateway, err := api.NewClient(cfg.GatewayURL, cfg.HTTPTimeout, tokenStore)
	if err != nil {
		log.Fatalf("Failed to create gateway client: %v", err)
	}

	hub := notify.NewHub()
	sessions := session.NewManager(tokenStore, gateway, hub)
	gateway.OnAuthExpired(sessions.HandleAuthExpired)

	controller := reports.NewController(gateway, sessions, hub)
	server := view.NewServer(sessions, controller, gateway, hub)

	// Restore after wiring so observers see the transition
	sessions.Restore()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("UrbanDrive client listening on %s (gateway %s)", cfg.ListenAddr, cfg.GatewayURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Shutdown:", err)
	}

	log.Println("Client exiting")
}
