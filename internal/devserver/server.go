package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

// Server is the development consultation service: the session REST API and
// the signaling websocket in one process. It exists so the client stack can
// be exercised end to end without the production backend.
type Server struct {
	sessions *SessionStore
	hub      *Hub
	logger   *logging.Logger
	http     *http.Server
	upgrader websocket.Upgrader
}

// ServerOptions represents dev server options
type ServerOptions struct {
	Addr         string
	WebsocketURL string
	Logger       *logging.Logger
}

// NewServer creates the development server.
func NewServer(options ServerOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}

	wsURL := options.WebsocketURL
	if wsURL == "" {
		wsURL = "ws://" + options.Addr + "/ws"
	}

	sessions := NewSessionStore(wsURL)

	s := &Server{
		sessions: sessions,
		hub:      NewHub(logger, sessions),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/ws", s.handleWebsocket)
	r.Get("/healthz", s.handleHealth)

	r.Route("/v1/video-consultation", func(r chi.Router) {
		r.Post("/sessions", s.handleStartSession)
		r.Post("/sessions/{sessionID}/activate", s.handleActivate)
		r.Post("/sessions/{sessionID}/end", s.handleEnd)
		r.Delete("/sessions/{sessionID}", s.handleCancel)
		r.Get("/sessions/active", s.handleActive)
		r.Get("/sessions/{sessionID}", s.handleGet)
		r.Get("/sessions/{sessionID}/analysis", s.handleAnalysis)
		r.Get("/history", s.handleHistory)
	})

	s.http = &http.Server{Addr: options.Addr, Handler: r}

	return s
}

// Start runs the hub and serves HTTP until the listener fails or Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.hub.Start(ctx)
	s.logger.Info("dev server listening", "addr", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Stop()
	return err
}

// userID derives the caller identity from the bearer token. The dev server
// trusts the token verbatim; without one every caller is the same dev user.
func userID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == "" || token == auth {
		return "dev-user"
	}
	return token
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, s.hub, s.logger)
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConsultationType domain.ConsultationType `json:"consultationType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := s.sessions.Create(userID(r), req.ConsultationType)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Info("session created", "session_id", session.ID, "type", string(session.ConsultationType))
	writeSuccess(w, session)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Activate(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeSuccess(w, session)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.End(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeSuccess(w, session)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Cancel(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeSuccess(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeSuccess(w, session)
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.Active(userID(r))
	if !ok {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeSuccess(w, session)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	result, err := s.sessions.Analysis(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeSuccess(w, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 20
	}

	entries, total := s.sessions.History(userID(r), page, size)
	if entries == nil {
		entries = []domain.SessionHistoryEntry{}
	}

	totalPages := (total + size - 1) / size
	writeSuccess(w, map[string]any{
		"content":       entries,
		"totalPages":    totalPages,
		"totalElements": total,
		"size":          size,
		"number":        page,
	})
}

func writeSuccess(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
