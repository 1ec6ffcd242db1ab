// Package web exposes the operational HTTP surface: health, Prometheus
// metrics, a websocket feed of pipeline events and an SSE stream of audit
// verdicts.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/justbytes/evmsniper/internal/audit"
	"github.com/justbytes/evmsniper/internal/dispatch"
)

const verdictPollInterval = 2 * time.Second

type verdictReader interface {
	RecordsAfter(index uint64) ([]audit.IndexedRecord, error)
}

// Server exposes HTTP endpoints for monitoring a running sniper.
type Server struct {
	addr     string
	bus      *dispatch.Bus
	verdicts verdictReader
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer creates a web server instance. verdicts and registry may be nil;
// the corresponding endpoints then report unavailable.
func NewServer(addr string, bus *dispatch.Bus, verdicts verdictReader, registry *prometheus.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		addr:     addr,
		bus:      bus,
		verdicts: verdicts,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/verdicts/stream", s.handleVerdictStream)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleEvents upgrades to a websocket and forwards every bus message to the
// client. A slow client is disconnected rather than allowed to block the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event bus not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	msgs := s.bus.Subscribe()
	defer s.bus.Unsubscribe(msgs)

	// drain client frames so pings and close messages are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("websocket client gone", zap.Error(err))
				return
			}
		}
	}
}

// handleVerdictStream replays audit verdicts from the journal as SSE events
// and keeps polling for new ones.
func (s *Server) handleVerdictStream(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		http.Error(w, "verdict journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(verdictPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendVerdicts := func() error {
		records, err := s.verdicts.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: verdict\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendVerdicts(); err != nil {
		http.Error(w, "failed to load verdicts", http.StatusInternalServerError)
		s.log.Warn("verdict stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendVerdicts(); err != nil {
				s.log.Warn("verdict stream poll failed", zap.Error(err))
			}
		}
	}
}
