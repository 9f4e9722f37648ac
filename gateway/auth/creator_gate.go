package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"launchpad/gateway/creator"
	"launchpad/observability"
)

// DefaultMaxBodyBytes caps how much of a request body the CreatorGate buffers.
const DefaultMaxBodyBytes int64 = 1 << 20

const (
	msgTokenRequired = "Token address required"
	msgInvalidToken  = "Invalid token address"
	msgNotCreator    = "Not authorized - must be token creator"
	msgCreatorError  = "Error checking token creator authorization"
	msgBodyTooLarge  = "Request body too large"
)

// CreatorResolver returns the verified creator of a token.
type CreatorResolver interface {
	Resolve(ctx context.Context, token common.Address) (common.Address, error)
}

// CreatorGateConfig configures NewCreatorGate.
type CreatorGateConfig struct {
	Resolver     CreatorResolver
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// CreatorGate admits only the wallet that deployed the addressed token.
type CreatorGate struct {
	resolver CreatorResolver
	maxBody  int64
	logger   *slog.Logger
	metrics  *observability.CreatorMetrics
}

// NewCreatorGate constructs a CreatorGate around resolver.
func NewCreatorGate(cfg CreatorGateConfig) (*CreatorGate, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("creator gate: resolver required")
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CreatorGate{
		resolver: cfg.Resolver,
		maxBody:  maxBody,
		logger:   logger.With("component", "creator_gate"),
		metrics:  observability.Creator(),
	}, nil
}

// Middleware must run after Gate.Middleware.
func (g *CreatorGate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			g.reject(w, http.StatusUnauthorized, unauthorizedMessage)
			return
		}
		raw, status, err := g.tokenAddress(r)
		if err != nil {
			g.logger.Warn("read request body", "path", r.URL.Path, "error", err)
			message := msgTokenRequired
			if status == http.StatusRequestEntityTooLarge {
				message = msgBodyTooLarge
			}
			g.reject(w, status, message)
			return
		}
		if raw == "" {
			g.reject(w, http.StatusBadRequest, msgTokenRequired)
			return
		}
		if !common.IsHexAddress(raw) {
			g.reject(w, http.StatusBadRequest, msgInvalidToken)
			return
		}
		token := common.HexToAddress(raw)

		owner, err := g.resolve(r.Context(), token)
		switch {
		case errors.Is(err, creator.ErrNotFound):
			g.logger.Info("creator unresolved", "token", strings.ToLower(token.Hex()), "caller", strings.ToLower(identity.Hex()))
			g.reject(w, http.StatusForbidden, msgNotCreator)
			return
		case err != nil:
			g.logger.Error("creator check failed", "token", strings.ToLower(token.Hex()), "error", err)
			g.reject(w, http.StatusInternalServerError, msgCreatorError)
			return
		}
		if !strings.EqualFold(owner.Hex(), identity.Hex()) {
			g.reject(w, http.StatusForbidden, msgNotCreator)
			return
		}
		g.metrics.RecordGateDecision(strconv.Itoa(http.StatusOK))
		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
	})
}

func (g *CreatorGate) resolve(ctx context.Context, token common.Address) (owner common.Address, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("creator resolver panic: %v", rec)
		}
	}()
	return g.resolver.Resolve(ctx, token)
}

// tokenAddress prefers the route parameter and falls back to the JSON body,
// which is restored for the downstream handler.
func (g *CreatorGate) tokenAddress(r *http.Request) (string, int, error) {
	if value := strings.TrimSpace(chi.URLParam(r, "address")); value != "" {
		return value, 0, nil
	}
	if r.Body == nil || r.Body == http.NoBody {
		return "", 0, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return "", http.StatusBadRequest, err
	}
	if int64(len(body)) > g.maxBody {
		return "", http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", g.maxBody)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if !gjson.ValidBytes(body) {
		return "", 0, nil
	}
	field := gjson.GetBytes(body, "address")
	if field.Type != gjson.String {
		return "", 0, nil
	}
	return strings.TrimSpace(field.String()), 0, nil
}

func (g *CreatorGate) reject(w http.ResponseWriter, status int, message string) {
	g.metrics.RecordGateDecision(strconv.Itoa(status))
	writeError(w, status, message)
}
