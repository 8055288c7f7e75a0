// Package api provides the HTTP and WebSocket server that exposes backtest
// runs to frontends.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/meridianquant/backtest-engine/internal/backtester"
	"github.com/meridianquant/backtest-engine/internal/strategy"
	"github.com/meridianquant/backtest-engine/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server serves results over HTTP and streams run progress over WebSocket.
// It holds one loaded bar series; each backtest request runs its own driver
// over that series in the background.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	bars []types.Bar
	runs map[string]*RunState
}

// RunState tracks one backtest from submission to completion.
type RunState struct {
	ID      string
	Config  *types.BacktestConfig
	Driver  *backtester.Driver
	Started time.Time
	Result  *types.BacktestResult
	Err     error
}

// NewServer creates the API server over an already loaded bar series.
func NewServer(logger *zap.Logger, config *types.ServerConfig, bars []types.Bar) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		clients: make(map[string]*Client),
		bars:    bars,
		runs:    make(map[string]*RunState),
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetTrades).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/equity", s.handleGetEquity).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/executions", s.handleGetExecutions).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Router exposes the configured handler, wrapped with CORS.
func (s *Server) Router() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server and closes WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "healthy",
		"bars":   len(s.bars),
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"strategies": strategy.Variants()})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	cfg := types.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	gen, err := strategy.New(cfg.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	driver := backtester.NewDriver(cfg, gen, s.logger)
	state := &RunState{
		ID:      cfg.ID,
		Config:  cfg,
		Driver:  driver,
		Started: time.Now(),
	}
	s.mu.Lock()
	s.runs[state.ID] = state
	s.mu.Unlock()

	go func() {
		for progress := range driver.Progress() {
			s.broadcastProgress(progress)
		}
	}()

	go func() {
		result, err := driver.Run(context.Background(), s.bars)

		s.mu.Lock()
		state.Result = result
		state.Err = err
		s.mu.Unlock()

		status := string(types.RunStateCompleted)
		if err != nil {
			status = string(types.RunStateFailed)
			s.logger.Error("Backtest failed", zap.String("id", state.ID), zap.Error(err))
		}
		s.broadcastEvent("backtest:complete", map[string]any{"id": state.ID, "status": status})
	}()

	writeJSON(w, map[string]any{"id": state.ID, "state": driver.State()})
}

func (s *Server) run(r *http.Request) (*RunState, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[id]
	return state, ok
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok {
		http.Error(w, "unknown run", http.StatusNotFound)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state.Err != nil {
		writeJSON(w, map[string]any{
			"id":    state.ID,
			"state": types.RunStateFailed,
			"error": state.Err.Error(),
		})
		return
	}
	if state.Result == nil {
		writeJSON(w, map[string]any{"id": state.ID, "state": state.Driver.State()})
		return
	}
	writeJSON(w, state.Result)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok || state.Result == nil {
		http.Error(w, "unknown or unfinished run", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"trades": state.Result.Trades})
}

func (s *Server) handleGetEquity(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok || state.Result == nil {
		http.Error(w, "unknown or unfinished run", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"equity": state.Result.EquityCurve})
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	state, ok := s.run(r)
	if !ok || state.Result == nil {
		http.Error(w, "unknown or unfinished run", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"executions": state.Result.Executions})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
