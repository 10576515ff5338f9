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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/manavgt54/AI-IDE/internal/config"
	"github.com/manavgt54/AI-IDE/internal/database"
	"github.com/manavgt54/AI-IDE/internal/handlers"
	"github.com/manavgt54/AI-IDE/internal/logging"
	"github.com/manavgt54/AI-IDE/internal/mediator"
	"github.com/manavgt54/AI-IDE/internal/session"
	"github.com/manavgt54/AI-IDE/internal/workspace"
	"github.com/robfig/cron/v3"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if err := os.MkdirAll(config.Cfg.WorkspaceRoot, 0755); err != nil {
		log.Fatalf("Workspace root init: %v", err)
	}

	log.Printf("Config: ListenAddr=%s WorkspaceRoot=%s Shell=%s ReconcileInterval=%s",
		config.Cfg.ListenAddr, config.Cfg.WorkspaceRoot, config.Cfg.ShellPath, config.Cfg.ReconcileInterval)

	queue := workspace.NewSyncQueue()

	med, err := mediator.New(queue)
	if err != nil {
		log.Fatalf("Mediator init: %v", err)
	}

	sessions := session.NewManager(med)
	h := handlers.New(sessions)

	// Background passes: low-frequency workspace reconciliation (saves
	// propagate immediately, this only catches what slipped through) and
	// idle detached-session cleanup.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", config.Cfg.ReconcileInterval), func() {
		workspace.Reconcile(sessions.ReadyIDs())
	}); err != nil {
		log.Fatalf("Schedule reconciliation: %v", err)
	}
	if config.Cfg.SessionIdleTimeout > 0 {
		if _, err := scheduler.AddFunc("@every 10m", func() {
			sessions.CleanupIdle(config.Cfg.SessionIdleTimeout)
		}); err != nil {
			log.Fatalf("Schedule idle cleanup: %v", err)
		}
	}
	scheduler.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/terminal", h.Terminal)
		r.Get("/logs", h.ServerLogs)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", h.DeleteSession)
			r.Get("/files", h.ListFiles)
			r.Get("/files/read", h.ReadFile)
			r.Post("/files", h.SaveFile)
			r.Post("/files/mkdir", h.Mkdir)
			r.Delete("/files", h.DeleteFile)
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	scheduler.Stop()

	// Kill every PTY and close every transport before the listener goes
	// away, so no child shells are orphaned.
	killCtx, cancelKill := context.WithTimeout(context.Background(), 10*time.Second)
	sessions.Shutdown(killCtx)
	cancelKill()

	queue.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
