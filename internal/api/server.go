package api

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

// Streamer produces the streamed answer for one chat turn. The sequence
// yields answer tokens; a non-nil error terminates it.
type Streamer interface {
	Stream(ctx context.Context, sess *session.Session) iter.Seq2[string, error]
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       *session.Store // Required
	Engine      Streamer       // Required
	Contexts    ContextBuilder // Required
	Readiness   ReadinessProbe // Optional: extra detail on /ready
	CORSOrigins []string       // Allowed origins for CORS
	IsDev       bool           // Disables HSTS
	TrustProxy  bool           // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
	RateBurst   int            // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("chat engine is required")
	}
	if cfg.Contexts == nil {
		return nil, errors.New("context builder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sh := &sessionHandler{
		store:    cfg.Store,
		contexts: cfg.Contexts,
		logger:   logger,
	}
	ch := &chatHandler{
		store:  cfg.Store,
		engine: cfg.Engine,
		logger: logger,
	}

	mux := http.NewServeMux()

	// Session CRUD
	mux.HandleFunc("POST /api/v1/chat/sessions", sh.createSession)
	mux.HandleFunc("GET /api/v1/chat/sessions", sh.listSessions)
	mux.HandleFunc("GET /api/v1/chat/sessions/{id}/messages", sh.getMessages)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{id}", sh.deleteSession)

	// Chat
	mux.HandleFunc("POST /api/v1/chat/sessions/{id}/messages", ch.sendMessage)

	// Stats
	mux.HandleFunc("GET /api/v1/chat/stats", sh.getStats)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to keep health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Readiness))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
