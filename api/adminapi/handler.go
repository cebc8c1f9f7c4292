package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashport-labs/apikey-gateway/api"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/metrics"
	"github.com/hashport-labs/apikey-gateway/routeconfig"
	"github.com/hashport-labs/apikey-gateway/walletauth"
)

// Handler serves the admin endpoints.
type Handler struct {
	store    interfaces.Store
	keys     *keymanager.Manager
	auth     *walletauth.Authenticator
	sessions *api.SessionAuth
	log      *slog.Logger
	now      func() time.Time
}

// New creates the handler.
func New(store interfaces.Store, keys *keymanager.Manager, auth *walletauth.Authenticator,
	sessions *api.SessionAuth, log *slog.Logger) *Handler {
	return &Handler{store: store, keys: keys, auth: auth, sessions: sessions, log: log, now: time.Now}
}

// RegisterRoutes mounts the admin routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/auth/nonce", h.handleAuthNonce)
	r.Post("/api/admin/auth/verify", h.handleAuthVerify)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.RequireAdmin)
		r.Post("/api/admin/partners", h.handleAddPartner)
		r.Put("/api/admin/tiers", h.handleUpsertTier)
	})
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
		Audience:  interfaces.NonceAdmin,
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

func (h *Handler) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		walletRequest
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.auth.AdminSignIn(r.Context(), walletauth.SignInInput{
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
	metrics.SignIns.WithLabelValues(string(interfaces.NonceAdmin)).Inc()
	api.RespondJSON(w, http.StatusOK, result)
}

type addPartnerAccount struct {
	Kind            interfaces.WalletKind `json:"kind"`
	AccountID       string                `json:"accountId"`
	Network         string                `json:"network"`
	ChainID         *int64                `json:"chainId"`
	IsLoginIdentity bool                  `json:"isLoginIdentity"`
	Role            interfaces.Role       `json:"role"`
}

type addPartnerRequest struct {
	Name                 string              `json:"name"`
	Contact              *string             `json:"contact"`
	Tier                 interfaces.Tier     `json:"tier"`
	RequestLimitOverride *int64              `json:"requestLimitOverride"`
	MultiDrip            bool                `json:"multiDrip"`
	Accounts             []addPartnerAccount `json:"accounts"`

	// KeyScopes overrides the default scope set of the initial key.
	KeyScopes []string `json:"keyScopes"`
}

// handleAddPartner onboards a partner: the partner row, its wallet accounts
// and an initial live faucet key commit in one transaction. The key
// plaintext is returned exactly once.
func (h *Handler) handleAddPartner(w http.ResponseWriter, r *http.Request) {
	var req addPartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		api.RespondError(w, http.StatusBadRequest, errors.New("partner name required"))
		return
	}
	if req.Tier == "" {
		req.Tier = interfaces.TierBasic
	}

	now := h.now()
	partner := &interfaces.Partner{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		Contact:              req.Contact,
		Tier:                 req.Tier,
		RequestLimitOverride: req.RequestLimitOverride,
		MultiDrip:            req.MultiDrip,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	accounts := make([]*interfaces.PartnerAccount, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		accountID, err := walletauth.NormalizeWallet(a.Kind, a.AccountID)
		if err != nil {
			api.RespondError(w, http.StatusBadRequest, err)
			return
		}
		role := a.Role
		if role == "" {
			role = interfaces.RoleOwner
		}
		accounts = append(accounts, &interfaces.PartnerAccount{
			ID:              uuid.NewString(),
			PartnerID:       partner.ID,
			Kind:            a.Kind,
			AccountID:       accountID,
			Network:         a.Network,
			ChainID:         a.ChainID,
			IsLoginIdentity: a.IsLoginIdentity,
			Role:            role,
			CreatedAt:       now,
		})
	}

	scopes := req.KeyScopes
	if len(scopes) == 0 {
		scopes = []string{routeconfig.ScopeFaucetClaim}
	}

	var issued *keymanager.IssuedKey
	err := h.store.InTx(r.Context(), func(tx interfaces.Store) error {
		if err := tx.Partners().Create(r.Context(), partner); err != nil {
			return err
		}
		for _, account := range accounts {
			if err := tx.Partners().CreateAccount(r.Context(), account); err != nil {
				return err
			}
		}
		var err error
		issued, err = h.keys.IssueIn(r.Context(), tx, keymanager.IssueInput{
			PartnerID: partner.ID,
			Env:       interfaces.EnvLive,
			Type:      interfaces.TypeFaucet,
			Scopes:    scopes,
		})
		return err
	})
	if err != nil {
		h.log.Error("partner onboarding failed", "err", err, "name", req.Name)
		api.RespondError(w, api.StatusForError(err), err)
		return
	}
	metrics.KeysIssued.WithLabelValues(string(issued.Env), string(issued.Type)).Inc()
	h.log.Info("partner onboarded", "partnerId", partner.ID, "name", partner.Name, "tier", partner.Tier)

	w.Header().Set("Cache-Control", "no-store")
	api.RespondJSON(w, http.StatusCreated, map[string]any{
		"partnerId": partner.ID,
		"key":       issued,
	})
}

func (h *Handler) handleUpsertTier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         interfaces.Tier `json:"name"`
		RequestLimit int64           `json:"requestLimit"`
		Features     []string        `json:"features"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		api.RespondError(w, http.StatusBadRequest, errors.New("tier name required"))
		return
	}
	err := h.store.Tiers().Upsert(r.Context(), &interfaces.TierPlan{
		Name:         req.Name,
		RequestLimit: req.RequestLimit,
		Features:     req.Features,
	})
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
