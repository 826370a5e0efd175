package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gorilla/mux"

	"accounts.api/internal/access"
	"accounts.api/internal/auth"
	"accounts.api/internal/events"
	"accounts.api/internal/store"
)

type Server struct {
	store     *store.Store
	tokens    *auth.Tokens
	policy    *access.Policy
	sender    auth.CodeSender
	publisher events.Publisher
	logger    Logger
}

type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type Option func(*Server)

func WithPolicy(p *access.Policy) Option {
	return func(s *Server) { s.policy = p }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

func WithCodeSender(cs auth.CodeSender) Option {
	return func(s *Server) { s.sender = cs }
}

func NewServer(st *store.Store, tokens *auth.Tokens, logger Logger, opts ...Option) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	s := &Server{
		store:     st,
		tokens:    tokens,
		policy:    access.NewPolicy(access.DefaultTable()),
		sender:    auth.LogSender{Logger: logger},
		publisher: events.Nop{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverer)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/users/send-code", s.handleSendCode).Methods(http.MethodPost)
	r.HandleFunc("/users/verify", s.handleVerifyUser).Methods(http.MethodPut)
	r.HandleFunc("/users/set-password/{id}", s.handleSetPassword).Methods(http.MethodPut)
	r.HandleFunc("/users/login", s.handleLogin).Methods(http.MethodPost)

	pr := r.NewRoute().Subrouter()
	pr.Use(s.authMiddleware)

	pr.HandleFunc("/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	pr.HandleFunc("/transactions/{userId}", s.handleListUserTransactions).Methods(http.MethodGet)
	pr.HandleFunc("/transactions/{id}", s.handleDeleteTransaction).Methods(http.MethodDelete)
	pr.HandleFunc("/transactions/{id}", s.handleUndoTransaction).Methods(http.MethodPut)
	pr.HandleFunc("/admin/transactions", s.handleListTransactions).Methods(http.MethodGet)

	pr.HandleFunc("/admin/users", s.handleCreateUser).Methods(http.MethodPost)
	pr.HandleFunc("/admin/users", s.handleListUsers).Methods(http.MethodGet)
	pr.HandleFunc("/admin/users/{id}/reconciliation", s.handleReconcile).Methods(http.MethodGet)
	pr.HandleFunc("/users/{id}", s.handleGetUser).Methods(http.MethodGet)
	pr.HandleFunc("/users/profile/{id}", s.handleUpdateProfile).Methods(http.MethodPut)

	return r
}

type principalKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		p, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("panic: %v\n%s", rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// principalFrom is only valid behind authMiddleware.
func principalFrom(r *http.Request) access.Principal {
	p, _ := r.Context().Value(principalKey{}).(access.Principal)
	return p
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
