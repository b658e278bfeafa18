// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/user/gptrelay/internal/state"
	"github.com/user/gptrelay/internal/types"
)

const topMembersLimit = 20

// PromptHandler answers a prompt on behalf of a user.
type PromptHandler func(ctx context.Context, userID types.UserID, prompt string) (string, error)

// SessionStats reports the in-memory session table size.
type SessionStats interface {
	Stats() types.SessionStats
}

// QAStats reports the Q&A cache size.
type QAStats interface {
	Stats() state.QAStats
}

// Leaderboard lists the most active members.
type Leaderboard interface {
	Top(ctx context.Context, limit int) ([]*state.Member, error)
}

// Deps are the optional data sources behind the API. A nil source makes its
// endpoint answer 503.
type Deps struct {
	Sessions SessionStats
	QA       QAStats
	Members  Leaderboard
}

// Server is the keep-alive and API HTTP handler.
type Server struct {
	handler PromptHandler
	deps    Deps
	started time.Time
	router  chi.Router
}

// NewServer creates a new Server answering prompts through handler.
func NewServer(handler PromptHandler, deps Deps) *Server {
	s := &Server{
		handler: handler,
		deps:    deps,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS([]string{"*"}))

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handlePrompt)
	r.Route("/api", func(r chi.Router) {
		r.Get("/top_members", s.handleTopMembers)
		r.Get("/stats", s.handleStats)
	})
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"status": "error", "error": message})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"service": "gptrelay",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "healthy", "bot": "active"})
}

// promptRequest is the JSON body for POST /webhook.
type promptRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"user_id"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || req.UserID == "" {
		Error(w, http.StatusBadRequest, "prompt and user_id are required")
		return
	}

	resp, err := s.handler(r.Context(), WebhookUserID(req.UserID), req.Prompt)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		Error(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}
	if err != nil {
		slog.Error("webhook prompt handler failed", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"response": resp})
}

// memberResponse is one entry of /api/top_members.
type memberResponse struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	MessageCount int64  `json:"message_count"`
}

func (s *Server) handleTopMembers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Members == nil {
		Error(w, http.StatusServiceUnavailable, "interaction tracking not configured")
		return
	}
	members, err := s.deps.Members.Top(r.Context(), topMembersLimit)
	if err != nil {
		slog.Error("list top members failed", "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]memberResponse, 0, len(members))
	for _, m := range members {
		data = append(data, memberResponse{
			UserID:       m.UserID,
			Username:     m.Username,
			FirstName:    m.FirstName,
			LastName:     m.LastName,
			MessageCount: m.MessageCount,
		})
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"data":      data,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.deps.Sessions != nil {
		out["sessions"] = s.deps.Sessions.Stats()
	}
	if s.deps.QA != nil {
		out["qa"] = s.deps.QA.Stats()
	}
	if len(out) == 0 {
		Error(w, http.StatusServiceUnavailable, "stats not configured")
		return
	}
	out["status"] = "success"
	JSON(w, http.StatusOK, out)
}

// WebhookUserID namespaces HTTP callers apart from chat users.
func WebhookUserID(id string) types.UserID {
	return types.UserID("webhook:" + id)
}
