package verifyapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashport-labs/apikey-gateway/api"
	"github.com/hashport-labs/apikey-gateway/gateway"
	"github.com/hashport-labs/apikey-gateway/metrics"
	"github.com/hashport-labs/apikey-gateway/securegate"
)

// Handler serves the verify-access endpoint.
type Handler struct {
	gw  *gateway.Gateway
	log *slog.Logger
}

// New creates the handler.
func New(gw *gateway.Gateway, log *slog.Logger) *Handler {
	return &Handler{gw: gw, log: log}
}

// RegisterRoutes mounts the verification route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/access/verify-access", h.handleVerifyAccess)
}

type verifyRequest struct {
	// Key may carry the bearer key in the body; the Authorization header
	// takes precedence when both are present.
	Key    string `json:"key"`
	Route  string `json:"route"`
	Method string `json:"method"`

	// ClientIP is the end-client address as seen by the upstream service.
	ClientIP string `json:"clientIp"`
}

type rateLimitResponse struct {
	Error         string `json:"error"`
	Limit         int64  `json:"limit"`
	WindowSeconds int64  `json:"windowSeconds"`
	Route         string `json:"route"`
}

func (h *Handler) handleVerifyAccess(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.AccessDecisions.WithLabelValues("error").Inc()
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}

	bearer := securegate.BearerToken(r)
	if bearer == "" {
		bearer = req.Key
	}
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	result, err := h.gw.VerifyAccess(r.Context(), gateway.Input{
		Bearer:   bearer,
		Route:    req.Route,
		Method:   method,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		var rle *gateway.RateLimitError
		if errors.As(err, &rle) {
			metrics.AccessDecisions.WithLabelValues("rate_limited").Inc()
			api.RespondJSON(w, http.StatusTooManyRequests, rateLimitResponse{
				Error:         rle.Error(),
				Limit:         rle.Limit,
				WindowSeconds: rle.WindowSeconds,
				Route:         rle.Route,
			})
			return
		}

		status := api.StatusForError(err)
		switch status {
		case http.StatusUnauthorized, http.StatusBadRequest, http.StatusNotFound:
			metrics.AccessDecisions.WithLabelValues("unauthorized").Inc()
		case http.StatusForbidden:
			metrics.AccessDecisions.WithLabelValues("forbidden").Inc()
		default:
			metrics.AccessDecisions.WithLabelValues("error").Inc()
			h.log.Error("access verification failed", "err", err, "route", req.Route)
		}
		api.RespondError(w, status, err)
		return
	}

	metrics.AccessDecisions.WithLabelValues("granted").Inc()
	api.RespondJSON(w, http.StatusOK, result)
}
