package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/chat"
	"github.com/antoniostano/memochat/internal/config"
	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/notify"
	"github.com/antoniostano/memochat/internal/observability"
)

type Server struct {
	cfg      config.Config
	chat     *chat.Service
	memos    *memo.Store
	hub      *notify.Hub
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, chatService *chat.Service, memos *memo.Store, hub *notify.Hub, metrics *observability.Metrics, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		chat:    chatService,
		memos:   memos,
		hub:     hub,
		metrics: metrics,
		logger:  logging.OrNop(logger).With(zap.String("component", "httpapi")),
		static:  newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin pages may subscribe to reminders.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/chat", s.handleChat)
	r.Get("/api/perf/latency", s.handlePerfLatency)

	r.Route("/api/memos", func(r chi.Router) {
		r.Get("/", s.handleListMemos)
		r.Post("/", s.handleCreateMemo)
		r.Post("/reload", s.handleReloadMemos)
		r.Patch("/{id}", s.handleUpdateMemo)
		r.Delete("/{id}", s.handleDeleteMemo)
		r.Post("/{id}/reschedule", s.handleRescheduleMemo)
		r.Post("/{id}/complete", s.handleCompleteMemo)
	})

	r.Get("/api/notifications/ws", s.handleNotificationsWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"gateway_mode":    s.cfg.GatewayMode,
		"memo_store_mode": s.memoStoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	ready := "ready"
	if s.chat == nil || s.memos == nil {
		status = http.StatusServiceUnavailable
		ready = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":          ready,
		"gateway_mode":    s.cfg.GatewayMode,
		"memo_store_mode": s.memoStoreMode(),
		"notify_clients":  s.notifyClients(),
	})
}

func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "notifications not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Serve(r.Context(), conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) memoStoreMode() string {
	if s.memos == nil {
		return "disabled"
	}
	return s.memos.BackendMode()
}

func (s *Server) notifyClients() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.Clients()
}
