package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"launchpad/gateway/auth"
	"launchpad/gateway/cache"
	"launchpad/gateway/middleware"
	"launchpad/observability"
)

// Rate limit classes.
const (
	LimitPublic = "public"
	LimitAuth   = "auth"
	LimitJobs   = "jobs"
)

// JobsScope is the operator token scope required by the jobs endpoints.
const JobsScope = "jobs"

type Config struct {
	Store       TokenStore
	Resolver    TokenResolver
	Cache       cache.Cache
	Gate        *auth.Gate
	CreatorGate *auth.CreatorGate
	// Operator guards the jobs endpoints. Nil leaves them unmounted.
	Operator      *middleware.Authenticator
	BackfillLimit int
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil || cfg.Resolver == nil {
		return nil, errors.New("routes: store and resolver required")
	}
	if cfg.Gate == nil || cfg.CreatorGate == nil {
		return nil, errors.New("routes: auth and creator gates required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokenCache := cfg.Cache
	if tokenCache == nil {
		tokenCache = cache.NewMemory(0, 0)
	}
	backfillLimit := cfg.BackfillLimit
	if backfillLimit <= 0 {
		backfillLimit = 100
	}

	tokens := &tokenRoutes{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		cache:    tokenCache,
		logger:   logger.With("component", "tokens"),
		events:   observability.Events(),
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}
	observe := func(route string) func(http.Handler) http.Handler {
		if cfg.Observability == nil {
			return passthrough
		}
		return cfg.Observability.Middleware(route)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := cfg.Store.Ping(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(pr chi.Router) {
		pr.Use(limit(LimitPublic), observe("tokens"))
		tokens.mountPublic(pr)
	})

	r.Group(func(ar chi.Router) {
		ar.Use(limit(LimitAuth), observe("auth"), cfg.Gate.Middleware)
		ar.Get("/auth/whoami", whoami)
		ar.Group(func(cr chi.Router) {
			cr.Use(cfg.CreatorGate.Middleware)
			tokens.mountCreator(cr)
		})
	})

	if cfg.Operator != nil {
		jobs := &jobRoutes{
			store:         cfg.Store,
			resolver:      cfg.Resolver,
			backfillLimit: backfillLimit,
			logger:        logger.With("component", "jobs"),
		}
		r.Group(func(jr chi.Router) {
			jr.Use(limit(LimitJobs), observe("jobs"), cfg.Operator.Middleware(JobsScope))
			jobs.mount(jr)
		})
	}

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	return r, nil
}

func whoami(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid or missing authorization")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": strings.ToLower(identity.Hex())})
}

func passthrough(next http.Handler) http.Handler {
	return next
}
