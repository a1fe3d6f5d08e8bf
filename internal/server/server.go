// Package server is the optional progress surface of a run: it streams
// outcomes over a WebSocket as they are recorded and serves the partial
// report.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/probekit/internal/logging"
	"github.com/raysh454/probekit/internal/model"
)

// Event is one message on /ws/outcomes.
type Event struct {
	Type    string         `json:"type"`
	Seq     int            `json:"seq,omitempty"`
	Outcome *model.Outcome `json:"outcome,omitempty"`
	Verdict model.Verdict  `json:"verdict,omitempty"`
	Score   float64        `json:"score,omitempty"`
}

const (
	EventOutcome = "outcome"
	EventDone    = "done"
)

type subscriber struct {
	ch chan Event
}

// Server is the HTTP + WebSocket progress surface for one run.
type Server struct {
	cfg      Config
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu      sync.Mutex
	history []Event
	subs    map[*subscriber]struct{}
	done    bool

	httpSrv  *http.Server
	listener net.Listener
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger.With(logging.Field{Key: "component", Value: "progress"}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: map[*subscriber]struct{}{},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/report", s.handleReport)
	r.Get("/outcomes", s.handleOutcomes)
	r.Get("/ws/outcomes", s.handleOutcomesWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})
	s.router.ServeHTTP(w, r)
}

// Publish broadcasts an outcome to every subscriber and keeps it for late
// joiners. It never blocks: a subscriber whose queue is full is dropped.
func (s *Server) Publish(o model.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	oc := o
	s.broadcast(Event{Type: EventOutcome, Seq: len(s.history) + 1, Outcome: &oc})
}

// Finish announces the final verdict and closes every stream.
func (s *Server) Finish(rep model.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.broadcast(Event{Type: EventDone, Verdict: rep.Verdict, Score: rep.Score})
	s.done = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
}

// broadcast must be called with s.mu held.
func (s *Server) broadcast(ev Event) {
	s.history = append(s.history, ev)
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			s.logger.Warn("dropping slow progress subscriber")
			close(sub.ch)
			delete(s.subs, sub)
		}
	}
}

// subscribe returns the events so far and a channel for the rest. The
// channel is nil when the run has already finished.
func (s *Server) subscribe() ([]Event, *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backlog := append([]Event(nil), s.history...)
	if s.done {
		return backlog, nil
	}
	sub := &subscriber{ch: make(chan Event, s.cfg.Buffer)}
	s.subs[sub] = struct{}{}
	return backlog, sub
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		close(sub.ch)
		delete(s.subs, sub)
	}
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:     s,
		ReadTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("progress server stopped", logging.Err(err))
		}
	}()
	s.logger.Info("progress server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// Addr is the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the HTTP server, waiting at most until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "finished": done})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "no report source")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Snapshot())
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	events := append([]Event(nil), s.history...)
	s.mu.Unlock()
	outs := make([]model.Outcome, 0, len(events))
	for _, ev := range events {
		if ev.Outcome != nil {
			outs = append(outs, *ev.Outcome)
		}
	}
	writeJSON(w, http.StatusOK, outs)
}

// WebSockets

func (s *Server) handleOutcomesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	backlog, sub := s.subscribe()
	if sub != nil {
		defer s.unsubscribe(sub)
	}
	for _, ev := range backlog {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	if sub == nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
