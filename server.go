package main

import (
	"time"
)

// Server wires the loaded configuration, the interface document, and the
// runtime pieces together. Created once in main; route registration and
// the middleware chain hang off it.
type Server struct {
	cfg      *Config
	app      *AppConfig
	auth     *authGate
	sessions SessionStore
	engine   QueueEngine
	disp     *dispatcher

	// created at start
	startTime time.Time
	limiter   *loginLimiter
}

func newServer(cfg *Config, app *AppConfig, auth *authGate, sessions SessionStore, engine QueueEngine, disp *dispatcher) *Server {
	return &Server{
		cfg:      cfg,
		app:      app,
		auth:     auth,
		sessions: sessions,
		engine:   engine,
		disp:     disp,
	}
}
