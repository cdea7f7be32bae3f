package escrow

import (
	"context"
	"net/http"
	"strings"
	"time"

	"escrow-backend/core/escrow"
	"escrow-backend/metrics"
	"escrow-backend/notify"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ipfs/go-cid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ContentStore is the content-address gateway behind /content.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (escrow.Hash, cid.Cid, error)
	Get(ctx context.Context, h escrow.Hash) ([]byte, error)
}

// Options tune the HTTP surface. Zero values pick defaults.
type Options struct {
	RateLimit     float64
	RateBurst     int
	SignatureSkew time.Duration
	CORSOrigins   []string
	Now           func() time.Time
}

// Server exposes the escrow program over HTTP.
type Server struct {
	program     *escrow.Program
	content     ContentStore
	broadcaster *notify.Broadcaster
	limiter     *RateLimiter
	auth        signatureAuth
	replay      *replayGuard
	origins     []string
}

// NewServer wires the handlers. content and broadcaster may be nil, which
// disables the content gateway and the event stream.
func NewServer(program *escrow.Program, content ContentStore, broadcaster *notify.Broadcaster, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.SignatureSkew <= 0 {
		opts.SignatureSkew = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		program:     program,
		content:     content,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		auth:        signatureAuth{skew: opts.SignatureSkew, now: opts.Now},
		replay:      newReplayGuard(opts.SignatureSkew, opts.Now),
		origins:     opts.CORSOrigins,
	}
}

// Limiter is exposed so the caller can run its eviction loop.
func (s *Server) Limiter() *RateLimiter { return s.limiter }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(securityHeaders)
	r.Use(s.cors)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/escrow", func(r chi.Router) {
		r.Use(s.limiter.RateLimit)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskID}", s.handleGetTask)
		r.Get("/tasks/{taskID}/vault", s.handleGetVault)
		r.Get("/tasks/{taskID}/vault/qr", s.handleVaultQR)
		r.Get("/tasks/{taskID}/events", s.handleTaskEvents)
		r.Get("/addresses/{taskID}", s.handleAddresses)
		r.Get("/accounts/{owner}", s.handleGetAccount)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/stream", s.handleEventStream)
		r.Get("/content/{hash}", s.handleGetContent)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireSignature)
			r.Post("/tasks", s.handleCreateTask)
			r.Post("/tasks/{taskID}/claim", s.handleClaimTask)
			r.Post("/tasks/{taskID}/submit", s.handleSubmitWork)
			r.Post("/tasks/{taskID}/approve", s.handleApprove)
			r.Post("/tasks/{taskID}/cancel", s.handleCancel)
			r.Post("/accounts", s.handleOpenAccount)
			r.With(s.replay.Once).Post("/accounts/{owner}/mint", s.handleMint)
			r.Post("/content", s.handlePutContent)
		})
	})
	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.origins {
			if allowed == "*" || strings.EqualFold(allowed, origin) {
				if allowed == "*" {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", HeaderPubkey, HeaderTimestamp, HeaderSignature,
		}, ", "))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RecordRequest(r.Method, route, status, elapsed)
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"program_id":  s.program.ProgramID(),
		"fee_account": s.program.FeeAccount(),
	})
}
