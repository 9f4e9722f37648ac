package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"launchpad/observability"
	"launchpad/observability/logging"
)

// HeaderAuthorization carries "Bearer <address>:<signature>".
const HeaderAuthorization = "Authorization"

// Every authentication failure answers with the same body so callers cannot
// tell which step rejected them.
const unauthorizedMessage = "Invalid or missing authorization"

var (
	// ErrMissingAuthorization is returned when no bearer credential is present.
	ErrMissingAuthorization = errors.New("missing authorization header")
	// ErrMalformedHeader is returned when the bearer value is not address:signature.
	ErrMalformedHeader = errors.New("malformed authorization header")
	// ErrAddressMismatch is returned in strict mode when the declared address
	// differs from the recovered signer.
	ErrAddressMismatch = errors.New("declared address does not match signer")
)

// Credential is the parsed bearer value. Declared is informational only.
type Credential struct {
	Declared  string
	Signature []byte
}

// ParseAuthorization splits an Authorization header into its declared
// address and decoded signature.
func ParseAuthorization(header string) (Credential, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credential{}, ErrMissingAuthorization
	}
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Credential{}, ErrMissingAuthorization
	}
	declared, rawSig, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return Credential{}, ErrMalformedHeader
	}
	declared = strings.TrimSpace(declared)
	rawSig = strings.TrimSpace(rawSig)
	if declared == "" || rawSig == "" || strings.Contains(rawSig, ":") {
		return Credential{}, ErrMalformedHeader
	}
	sig, err := DecodeSignature(rawSig)
	if err != nil {
		return Credential{}, ErrMalformedHeader
	}
	return Credential{Declared: declared, Signature: sig}, nil
}

// GateConfig configures the signature gate.
type GateConfig struct {
	Message            string
	StrictAddressMatch bool
	Logger             *slog.Logger
}

// Gate authenticates requests by recovering the signer of a fixed message.
type Gate struct {
	message string
	strict  bool
	logger  *slog.Logger
	metrics *observability.AuthMetrics
}

// NewGate constructs a Gate. An empty message falls back to DefaultMessage.
func NewGate(cfg GateConfig) *Gate {
	message := cfg.Message
	if strings.TrimSpace(message) == "" {
		message = DefaultMessage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		message: message,
		strict:  cfg.StrictAddressMatch,
		logger:  logger.With("component", "auth"),
		metrics: observability.Auth(),
	}
}

// Message returns the plaintext wallets must sign.
func (g *Gate) Message() string {
	return g.message
}

// Authenticate returns the recovered signer for an Authorization header.
func (g *Gate) Authenticate(header string) (common.Address, error) {
	cred, err := ParseAuthorization(header)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := RecoverSigner(g.message, cred.Signature)
	if err != nil {
		return common.Address{}, err
	}
	if g.strict && common.IsHexAddress(cred.Declared) && common.HexToAddress(cred.Declared) != signer {
		return common.Address{}, ErrAddressMismatch
	}
	return signer, nil
}

// Middleware rejects unauthenticated requests with 401 and otherwise stores
// the recovered address in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, err := g.Authenticate(r.Header.Get(HeaderAuthorization))
		if err != nil {
			g.metrics.Observe(authOutcome(err))
			g.logger.Debug("authentication rejected",
				"path", r.URL.Path,
				"reason", err.Error(),
				logging.MaskField("authorization", r.Header.Get(HeaderAuthorization)),
			)
			writeError(w, http.StatusUnauthorized, unauthorizedMessage)
			return
		}
		g.metrics.Observe(observability.AuthOutcomeAccepted)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), signer)))
	})
}

func authOutcome(err error) string {
	switch {
	case errors.Is(err, ErrMissingAuthorization):
		return observability.AuthOutcomeMissing
	case errors.Is(err, ErrMalformedHeader):
		return observability.AuthOutcomeMalformed
	case errors.Is(err, ErrAddressMismatch):
		return observability.AuthOutcomeMismatch
	default:
		return observability.AuthOutcomeInvalid
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
