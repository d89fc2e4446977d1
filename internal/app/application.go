// Package app wires the system together: store, token verifier, room
// manager, websocket handler, REST API, HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/config"
	"parley/internal/room"
	"parley/internal/store"
	"parley/internal/websocket"
)

type Application struct {
	config     *config.Config
	store      *store.Manager
	verifier   *auth.Verifier
	rooms      *room.Manager
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication initializes every component in dependency order:
// store, verifier, room manager, handlers, HTTP server.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storeConfig := store.DefaultConfig(cfg.Database.Path)
	storeConfig.ConnMaxLifetime = cfg.Database.Timeout
	st, err := store.NewManager(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	verifier := auth.NewVerifierTTL([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)

	roomConfig := room.DefaultConfig()
	roomConfig.HistoryLimit = cfg.Room.HistoryLimit
	roomConfig.MaxConnsPerIP = cfg.Room.MaxConnsPerIP
	roomConfig.RateWindow = cfg.Room.RateWindow
	roomConfig.RateLimit = cfg.Room.RateLimit
	roomConfig.FlushInterval = cfg.Room.FlushInterval
	roomConfig.PingInterval = cfg.Room.PingInterval
	roomConfig.PongTimeout = cfg.Room.PongTimeout
	roomConfig.IdleTTL = cfg.Room.IdleTTL
	rooms := room.NewManager(st, verifier, roomConfig)

	apiServer := api.NewServer(st, rooms)
	wsHandler := websocket.NewHandler(rooms)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      st,
		verifier:   verifier,
		rooms:      rooms,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the HTTP server up and confirms it is accepting.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("starting parley on %s", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("parley started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP server,
// room actors, store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down parley")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.rooms.Stop()

	if err := app.store.Close(); err != nil {
		log.Printf("store shutdown error: %v", err)
	}

	log.Printf("parley shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
