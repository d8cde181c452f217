package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kirillm/delta-bot/internal/exchange"
	"github.com/kirillm/delta-bot/internal/orchestrator"
)

// Controller состояние и управление, которые сервер выставляет наружу
type Controller interface {
	Status() orchestrator.Status
	RequestShutdown()
}

// Server read-mostly HTTP API: здоровье процесса, состояние цикла,
// балансы обеих бирж и мягкая остановка. Торговые операции через API
// недоступны.
type Server struct {
	ctl      Controller
	extended exchange.Exchange
	tradexyz exchange.Exchange
	log      zerolog.Logger

	httpServer *http.Server
	started    time.Time
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewServer создаёт сервер на addr
func NewServer(addr string, ctl Controller, extended, tradexyz exchange.Exchange, log zerolog.Logger) *Server {
	s := &Server{
		ctl:      ctl,
		extended: extended,
		tradexyz: tradexyz,
		log:      log.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/stop", s.handleStop)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start блокирует до остановки сервера
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown мягко останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"extended":       s.extended.IsConnected(),
		"tradexyz":       s.tradexyz.IsConnected(),
		"timestamp":      time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.ctl.Status()
	data := map[string]interface{}{
		"state":                status.State,
		"running":              status.Running,
		"cycles_run":           status.CyclesRun,
		"consecutive_failures": status.ConsecutiveFailures,
		"emergency_triggered":  status.EmergencyTriggered,
		"shutdown_requested":   status.ShutdownRequested,
		"timestamp":            time.Now().Unix(),
	}
	if status.LastResult != nil {
		data["last_cycle"] = map[string]interface{}{
			"cycle_id":    status.LastResult.CycleID,
			"success":     status.LastResult.Success,
			"state":       status.LastResult.State,
			"fail_reason": status.LastResult.FailReason,
			"finished_at": status.LastResult.FinishedAt.Unix(),
		}
	}
	s.sendSuccess(w, data)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	extBalance, err := s.extended.GetBalance(ctx)
	if err != nil {
		s.sendError(w, "Failed to get extended balance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	xyzBalance, err := s.tradexyz.GetBalance(ctx)
	if err != nil {
		s.sendError(w, "Failed to get tradexyz balance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"extended":  extBalance,
		"tradexyz":  xyzBalance,
		"timestamp": time.Now().Unix(),
	})
}

// handleStop запрашивает мягкую остановку: текущий цикл доводится до
// конца, новые не начинаются
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.ctl.RequestShutdown()
	s.log.Warn().Msg("shutdown requested via API")
	s.sendSuccess(w, map[string]interface{}{
		"message":   "Shutdown requested",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}
