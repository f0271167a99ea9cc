package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"telerelay/internal/middleware"
	"telerelay/internal/models"
	"telerelay/internal/relay"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const defaultHistoryLimit = 50

// Snapshotter is the read-only view of the relay the server exposes.
type Snapshotter interface {
	Snapshot() relay.Snapshot
}

// HistoryReader serves the dashboard's history queries.
type HistoryReader interface {
	RecentForwards(ctx context.Context, limit int) ([]models.ForwardRecord, error)
	RecentErrors(ctx context.Context, limit int) ([]models.ErrorRecord, error)
}

// Server is the read-only status API consumed by the external dashboard.
// It never touches the relay path beyond Snapshot.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	relay    Snapshotter
	history  HistoryReader
	livePush time.Duration
	server   *http.Server
}

func NewServer(cfg models.ServerConfig, rc Snapshotter, history HistoryReader, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		relay:    rc,
		history:  history,
		livePush: time.Duration(cfg.LivePushSec) * time.Second,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the live websocket holds its connection open
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleMessages()).Methods(http.MethodGet)
	api.HandleFunc("/errors", s.handleErrors()).Methods(http.MethodGet)
	api.HandleFunc("/live", s.handleLive()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting status server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, s.relay.Snapshot())
	}
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.history.RecentForwards(r.Context(), queryLimit(r))
		if err != nil {
			s.logger.WithError(err).Error("Failed to load forward history")
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []models.ForwardRecord{}
		}
		s.writeJSON(w, records)
	}
}

func (s *Server) handleErrors() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.history.RecentErrors(r.Context(), queryLimit(r))
		if err != nil {
			s.logger.WithError(err).Error("Failed to load error log")
			http.Error(w, "failed to load error log", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []models.ErrorRecord{}
		}
		s.writeJSON(w, records)
	}
}

// handleLive pushes snapshots over a websocket on a fixed cadence until the
// client goes away.
func (s *Server) handleLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Debug("Websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		ticker := time.NewTicker(s.livePush)
		defer ticker.Stop()

		// Send one snapshot immediately so the dashboard paints fast.
		if err := wsjson.Write(ctx, conn, s.relay.Snapshot()); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := wsjson.Write(ctx, conn, s.relay.Snapshot()); err != nil {
					return
				}
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultHistoryLimit
}
