package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"docchat/internal/bootstrap"
	httptransport "docchat/internal/transport/http"
)

func main() {
	_ = godotenv.Load()
	if err := run(); err != nil {
		log.Fatalf("docchat server: %v", err)
	}
}

func run() error {
	// The transcript worker keeps consuming until Close, after the HTTP drain.
	app, err := bootstrap.New(context.Background())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close resources failed: %v", err)
		}
	}()

	server := &http.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           httptransport.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("docchat listening on %s", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout := app.Config.ShutdownTimeout()
	log.Printf("shutting down, waiting up to %s for %d active sessions", timeout, app.Service.ActiveSessions())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown failed: %v", err)
	}
	return nil
}
