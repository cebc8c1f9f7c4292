package securegate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/metrics"
	"github.com/hashport-labs/apikey-gateway/token"
)

// StepUpMaxAge bounds how old a wallet proof may be for sensitive handlers.
const StepUpMaxAge = 5 * time.Minute

type contextKey int

const claimsKey contextKey = iota

// FromContext returns the secure claims the gate attached to the request.
func FromContext(ctx context.Context) (*token.SecureClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.SecureClaims)
	return claims, ok
}

// Gate verifies secure tokens and enforces their operation binding.
type Gate struct {
	tokens *token.Issuer
	store  interfaces.Store
	log    *slog.Logger

	// bindClient additionally enforces the optional ipHash/uaHash claims.
	bindClient bool

	now func() time.Time
}

// New creates a gate. bindClient enables client-address and user-agent
// binding for tokens that carry those hashes.
func New(tokens *token.Issuer, store interfaces.Store, log *slog.Logger, bindClient bool) *Gate {
	return &Gate{tokens: tokens, store: store, log: log, bindClient: bindClient, now: time.Now}
}

// WithClock returns a copy of the gate using the provided time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	clone := *g
	clone.now = now
	return &clone
}

// RequireSecure returns middleware admitting only requests bearing a valid
// secure token for the given scope, bound to this exact route, method and
// resource. The token's jti is consumed on success.
func (g *Gate) RequireSecure(scope token.SecureScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, status, err := g.check(r, scope)
			if err != nil {
				g.log.Info("secure gate rejected request",
					"err", err, "path", r.URL.Path, "method", r.Method)
				metrics.SecureGateRejections.WithLabelValues(err.Error()).Inc()
				writeError(w, status, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// check runs the ordered binding checks and returns the claims on success,
// or the HTTP status and error to surface.
func (g *Gate) check(r *http.Request, scope token.SecureScope) (*token.SecureClaims, int, error) {
	bearer := BearerToken(r)
	if bearer == "" {
		return nil, http.StatusUnauthorized, interfaces.ErrMissingToken
	}

	claims, err := g.tokens.VerifySecure(bearer)
	if err != nil {
		return nil, http.StatusUnauthorized, err
	}

	if claims.Scope != scope {
		return nil, http.StatusForbidden, interfaces.ErrWrongScope
	}
	if pattern := chi.RouteContext(r.Context()).RoutePattern(); claims.Path != pattern {
		return nil, http.StatusForbidden, interfaces.ErrPathMismatch
	}
	if claims.Method != r.Method {
		return nil, http.StatusForbidden, interfaces.ErrMethodMismatch
	}
	if claims.ResourceID != chi.URLParam(r, "id") {
		return nil, http.StatusForbidden, interfaces.ErrResourceMismatch
	}

	if g.bindClient {
		if claims.IPHash != "" && claims.IPHash != cryptoutils.SHA256Hex(ClientIP(r)) {
			return nil, http.StatusForbidden, interfaces.ErrIPMismatch
		}
		if claims.UAHash != "" && claims.UAHash != cryptoutils.SHA256Hex(r.UserAgent()) {
			return nil, http.StatusForbidden, interfaces.ErrUAMismatch
		}
	}

	if err := g.store.JTIs().Consume(r.Context(), claims.ID, g.now()); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrUnknownJTI),
			errors.Is(err, interfaces.ErrUsedJTI),
			errors.Is(err, interfaces.ErrExpiredJTI):
			return nil, http.StatusUnauthorized, err
		default:
			return nil, http.StatusInternalServerError, err
		}
	}

	return claims, 0, nil
}

// RequireRecentStepUp verifies the wallet proof behind the claims is no
// older than StepUpMaxAge.
func (g *Gate) RequireRecentStepUp(claims *token.SecureClaims) error {
	if claims.StepUpAt == 0 {
		return interfaces.ErrStepUpRequired
	}
	if g.now().Sub(time.UnixMilli(claims.StepUpAt)) > StepUpMaxAge {
		return interfaces.ErrStepUpExpired
	}
	return nil
}

// BearerToken extracts the bearer credential from the Authorization header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// ClientIP resolves the caller address, honoring the leftmost
// X-Forwarded-For entry when present.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
}
