package partnerapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashport-labs/apikey-gateway/api"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/metrics"
	"github.com/hashport-labs/apikey-gateway/securegate"
	"github.com/hashport-labs/apikey-gateway/token"
	"github.com/hashport-labs/apikey-gateway/walletauth"
)

// Route templates the step-up tokens bind to. They must match the mounted
// patterns exactly.
const (
	revealRoute     = "/api/partner/keys/{id}/reveal"
	regenerateRoute = "/api/partner/keys/{id}/regenerate"
)

// Handler serves the partner portal endpoints.
type Handler struct {
	store    interfaces.Store
	keys     *keymanager.Manager
	auth     *walletauth.Authenticator
	sessions *api.SessionAuth
	gate     *securegate.Gate
	log      *slog.Logger
}

// New creates the handler.
func New(store interfaces.Store, keys *keymanager.Manager, auth *walletauth.Authenticator,
	sessions *api.SessionAuth, gate *securegate.Gate, log *slog.Logger) *Handler {
	return &Handler{store: store, keys: keys, auth: auth, sessions: sessions, gate: gate, log: log}
}

// RegisterRoutes mounts the partner portal routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/partner/auth/nonce", h.handleAuthNonce)
	r.Post("/api/partner/auth/verify", h.handleAuthVerify)
	r.Get("/api/partner/is-partner", h.handleIsPartner)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.RequirePartner)
		r.Post("/api/partner/auth/step-up/nonce", h.handleStepUpNonce)
		r.Post("/api/partner/auth/step-up/verify", h.handleStepUpVerify)
		r.Get("/api/partner/info", h.handleInfo)
		r.Get("/api/partner/keys", h.handleListKeys)
	})

	r.With(h.gate.RequireSecure(token.ScopeReveal)).
		Get(revealRoute, h.handleReveal)
	r.With(h.gate.RequireSecure(token.ScopeRegenerate)).
		Post(regenerateRoute, h.handleRegenerate)
}

type walletRequest struct {
	Kind      interfaces.WalletKind `json:"walletKind"`
	AccountID string                `json:"accountId"`
	Network   string                `json:"network"`
	ChainID   *int64                `json:"chainId"`
}

func (h *Handler) handleAuthNonce(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	challenge, err := h.auth.RequestNonce(r.Context(), walletauth.NonceRequest{
		Audience:  interfaces.NoncePartner,
		Kind:      req.Kind,
		AccountID: req.AccountID,
		Network:   req.Network,
		ChainID:   req.ChainID,
	})
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	api.RespondJSON(w, http.StatusOK, challenge)
}

type verifyRequest struct {
	walletRequest
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

func (h *Handler) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.auth.PartnerSignIn(r.Context(), walletauth.SignInInput{
		Kind:      req.Kind,
		AccountID: req.AccountID,
		Network:   req.Network,
		ChainID:   req.ChainID,
		Nonce:     req.Nonce,
		Signature: req.Signature,
	})
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	metrics.SignIns.WithLabelValues(string(interfaces.NoncePartner)).Inc()
	api.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIsPartner(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		api.RespondError(w, http.StatusBadRequest, errors.New("accountId query parameter required"))
		return
	}
	_, err := h.store.Partners().FindAnyLoginIdentity(r.Context(), accountID)
	switch {
	case err == nil:
		api.RespondJSON(w, http.StatusOK, map[string]bool{"isPartner": true})
	case errors.Is(err, interfaces.ErrNotFound):
		api.RespondJSON(w, http.StatusOK, map[string]bool{"isPartner": false})
	default:
		api.RespondError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) handleStepUpNonce(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	challenge, err := h.auth.RequestNonce(r.Context(), walletauth.NonceRequest{
		Audience:  interfaces.NoncePartner,
		Kind:      req.Kind,
		AccountID: req.AccountID,
		Network:   req.Network,
		ChainID:   req.ChainID,
	})
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	api.RespondJSON(w, http.StatusOK, challenge)
}

type stepUpVerifyRequest struct {
	verifyRequest
	Action string `json:"action"`
	KeyID  string `json:"keyId"`
}

func (h *Handler) handleStepUpVerify(w http.ResponseWriter, r *http.Request) {
	session, _ := api.SessionFromContext(r.Context())

	var req stepUpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	scope, err := token.ParseSecureScope(req.Action)
	if err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}

	// The target key must belong to the session's partner and still be live
	// before a step-up token is minted for it.
	key, err := h.store.APIKeys().GetByID(r.Context(), req.KeyID)
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	if key.PartnerID != session.PartnerID || key.Revoked {
		api.RespondError(w, http.StatusNotFound, interfaces.ErrKeyRevokedOrNotFound)
		return
	}

	method, path := http.MethodGet, revealRoute
	if scope == token.ScopeRegenerate {
		method, path = http.MethodPost, regenerateRoute
	}

	result, err := h.auth.PartnerStepUp(r.Context(), session.Identity, walletauth.StepUpInput{
		SignIn: walletauth.SignInInput{
			Kind:      req.Kind,
			AccountID: req.AccountID,
			Network:   req.Network,
			ChainID:   req.ChainID,
			Nonce:     req.Nonce,
			Signature: req.Signature,
		},
		Scope:      scope,
		ResourceID: key.ID,
		Method:     method,
		Path:       path,
		IPHash:     cryptoutils.SHA256Hex(securegate.ClientIP(r)),
		UAHash:     cryptoutils.SHA256Hex(r.UserAgent()),
	})
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	api.RespondJSON(w, http.StatusOK, result)
}

type partnerInfoResponse struct {
	Partner  partnerView   `json:"partner"`
	Accounts []accountView `json:"accounts"`
}

type partnerView struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	Contact              *string         `json:"contact,omitempty"`
	Tier                 interfaces.Tier `json:"tier"`
	RequestLimitOverride *int64          `json:"requestLimitOverride,omitempty"`
	MultiDrip            bool            `json:"multiDrip"`
}

type accountView struct {
	ID              string                `json:"id"`
	Kind            interfaces.WalletKind `json:"kind"`
	AccountID       string                `json:"accountId"`
	Network         string                `json:"network"`
	ChainID         *int64                `json:"chainId,omitempty"`
	IsLoginIdentity bool                  `json:"isLoginIdentity"`
	Role            interfaces.Role       `json:"role"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	session, _ := api.SessionFromContext(r.Context())

	partner, err := h.store.Partners().GetByID(r.Context(), session.PartnerID)
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	accounts, err := h.store.Partners().ListAccounts(r.Context(), session.PartnerID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	resp := partnerInfoResponse{
		Partner: partnerView{
			ID:                   partner.ID,
			Name:                 partner.Name,
			Contact:              partner.Contact,
			Tier:                 partner.Tier,
			RequestLimitOverride: partner.RequestLimitOverride,
			MultiDrip:            partner.MultiDrip,
		},
	}
	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, accountView{
			ID:              account.ID,
			Kind:            account.Kind,
			AccountID:       account.AccountID,
			Network:         account.Network,
			ChainID:         account.ChainID,
			IsLoginIdentity: account.IsLoginIdentity,
			Role:            account.Role,
		})
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

type keyView struct {
	ID         string             `json:"id"`
	Display    string             `json:"display"`
	Env        interfaces.KeyEnv  `json:"env"`
	Type       interfaces.KeyType `json:"type"`
	Scopes     []string           `json:"scopes"`
	Revoked    bool               `json:"revoked"`
	CreatedAt  string             `json:"createdAt"`
	ExpiresAt  *string            `json:"expiresAt,omitempty"`
	LastUsedAt *string            `json:"lastUsedAt,omitempty"`
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	session, _ := api.SessionFromContext(r.Context())

	includeRevoked := r.URL.Query().Get("includeRevoked") == "true"
	keys, err := h.store.APIKeys().ListByPartner(r.Context(), session.PartnerID, includeRevoked)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	views := make([]keyView, 0, len(keys))
	for _, key := range keys {
		view := keyView{
			ID:        key.ID,
			Display:   keymanager.Redacted(key),
			Env:       key.Env,
			Type:      key.Type,
			Scopes:    key.Scopes,
			Revoked:   key.Revoked,
			CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
		}
		if key.ExpiresAt != nil {
			s := key.ExpiresAt.UTC().Format(time.RFC3339)
			view.ExpiresAt = &s
		}
		if key.LastUsedAt != nil {
			s := key.LastUsedAt.UTC().Format(time.RFC3339)
			view.LastUsedAt = &s
		}
		views = append(views, view)
	}
	api.RespondJSON(w, http.StatusOK, map[string]any{"keys": views})
}

// ownedKey loads the key from the route's {id} and verifies it belongs to
// the partner the secure token was minted for.
func (h *Handler) ownedKey(r *http.Request, claims *token.SecureClaims) (*interfaces.APIKey, error) {
	key, err := h.store.APIKeys().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if key.PartnerID != claims.PartnerID {
		return nil, interfaces.ErrKeyRevokedOrNotFound
	}
	return key, nil
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	claims, ok := securegate.FromContext(r.Context())
	if !ok {
		api.RespondError(w, http.StatusUnauthorized, interfaces.ErrMissingToken)
		return
	}
	if err := h.gate.RequireRecentStepUp(claims); err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	key, err := h.ownedKey(r, claims)
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}

	plaintext, err := h.keys.Reveal(r.Context(), key.ID)
	if err != nil {
		h.log.Error("key reveal failed", "err", err, "apiKeyId", key.ID)
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	metrics.KeyReveals.Inc()

	// Plaintext must never land in shared caches.
	w.Header().Set("Cache-Control", "no-store")
	api.RespondJSON(w, http.StatusOK, map[string]string{"key": plaintext})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	claims, ok := securegate.FromContext(r.Context())
	if !ok {
		api.RespondError(w, http.StatusUnauthorized, interfaces.ErrMissingToken)
		return
	}
	if err := h.gate.RequireRecentStepUp(claims); err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	key, err := h.ownedKey(r, claims)
	if err != nil {
		api.RespondError(w, api.StatusForError(err), err)
		return
	}

	issued, err := h.keys.Regenerate(r.Context(), key.ID)
	if err != nil {
		h.log.Error("key regenerate failed", "err", err, "apiKeyId", key.ID)
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	metrics.KeysIssued.WithLabelValues(string(issued.Env), string(issued.Type)).Inc()

	w.Header().Set("Cache-Control", "no-store")
	api.RespondJSON(w, http.StatusOK, issued)
}
