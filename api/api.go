package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/securegate"
	"github.com/hashport-labs/apikey-gateway/token"
)

type contextKey int

const sessionKey contextKey = iota

// SessionFromContext returns the session claims attached by RequireSession.
func SessionFromContext(ctx context.Context) (*token.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionKey).(*token.SessionClaims)
	return claims, ok
}

// SessionAuth authenticates portal requests with session tokens.
type SessionAuth struct {
	tokens *token.Issuer
	log    *slog.Logger
}

// NewSessionAuth creates the middleware provider.
func NewSessionAuth(tokens *token.Issuer, log *slog.Logger) *SessionAuth {
	return &SessionAuth{tokens: tokens, log: log}
}

// RequireSession admits only requests bearing a valid session token and
// attaches the claims to the request context.
func (a *SessionAuth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := securegate.BearerToken(r)
		if bearer == "" {
			RespondError(w, http.StatusUnauthorized, interfaces.ErrMissingToken)
			return
		}
		claims, err := a.tokens.VerifySession(bearer)
		if err != nil {
			RespondError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, claims)))
	})
}

// RequireAdmin additionally requires the session to carry the admin flag.
func (a *SessionAuth) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := SessionFromContext(r.Context())
		if !ok || !claims.IsAdmin || claims.SubType != token.SubjectAdmin {
			RespondError(w, http.StatusForbidden, errors.New("admin session required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequirePartner additionally requires a partner-scoped session.
func (a *SessionAuth) RequirePartner(next http.Handler) http.Handler {
	return a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := SessionFromContext(r.Context())
		if !ok || claims.SubType != token.SubjectPartner || claims.PartnerID == "" {
			RespondError(w, http.StatusForbidden, errors.New("partner session required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RespondJSON writes v as the JSON response body.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// RespondError writes the error as a {"error": ...} body.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, map[string]string{"error": err.Error()})
}

// StatusForError maps the domain sentinels to HTTP status codes. Unmatched
// errors are treated as internal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrInvalidKeyFormat),
		errors.Is(err, interfaces.ErrInvalidWalletFormat),
		errors.Is(err, interfaces.ErrHederaNotImplemented),
		errors.Is(err, interfaces.ErrUnrecognizedRoute),
		errors.Is(err, interfaces.ErrInvalidOrExpiredNonce):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrMissingToken),
		errors.Is(err, interfaces.ErrInvalidToken),
		errors.Is(err, interfaces.ErrWrongTokenType),
		errors.Is(err, interfaces.ErrKeyRevokedOrNotFound),
		errors.Is(err, interfaces.ErrKeyExpired),
		errors.Is(err, interfaces.ErrBadKeySignature),
		errors.Is(err, interfaces.ErrSignatureMismatch),
		errors.Is(err, interfaces.ErrUnknownJTI),
		errors.Is(err, interfaces.ErrUsedJTI),
		errors.Is(err, interfaces.ErrExpiredJTI):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrInsufficientScope),
		errors.Is(err, interfaces.ErrNoAllowance),
		errors.Is(err, interfaces.ErrNotLoginIdentity),
		errors.Is(err, interfaces.ErrNotAdminWallet),
		errors.Is(err, interfaces.ErrStepUpRequired),
		errors.Is(err, interfaces.ErrStepUpExpired),
		errors.Is(err, interfaces.ErrWrongScope),
		errors.Is(err, interfaces.ErrPathMismatch),
		errors.Is(err, interfaces.ErrMethodMismatch),
		errors.Is(err, interfaces.ErrResourceMismatch),
		errors.Is(err, interfaces.ErrIPMismatch),
		errors.Is(err, interfaces.ErrUAMismatch):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
