package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashport-labs/apikey-gateway/cryptoutils"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/routeconfig"
)

// DefaultWindowSeconds is the fixed rate-limit window size.
const DefaultWindowSeconds = 60

// Gateway is the externally callable authorization check.
type Gateway struct {
	store         interfaces.Store
	keys          *keymanager.Manager
	routes        routeconfig.Table
	log           *slog.Logger
	windowSeconds int64
	now           func() time.Time
}

// New creates a gateway. A non-positive windowSeconds selects the default.
func New(store interfaces.Store, keys *keymanager.Manager, routes routeconfig.Table, log *slog.Logger, windowSeconds int64) (*Gateway, error) {
	if store == nil || keys == nil {
		return nil, errors.New("store and key manager are required")
	}
	if routes.Len() == 0 {
		return nil, errors.New("route table is empty")
	}
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Gateway{
		store:         store,
		keys:          keys,
		routes:        routes,
		log:           log,
		windowSeconds: windowSeconds,
		now:           time.Now,
	}, nil
}

// WithClock returns a copy of the gateway using the provided time source.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	clone := *g
	clone.now = now
	return &clone
}

// Input is one verification request from an upstream service.
type Input struct {
	Bearer   string
	Route    string
	Method   string
	ClientIP string
}

// PartnerSummary identifies the key's owner to the upstream caller.
type PartnerSummary struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Tier interfaces.Tier `json:"tier"`
}

// KeySummary identifies the verified key without exposing secrets.
type KeySummary struct {
	ID     string             `json:"id"`
	Env    interfaces.KeyEnv  `json:"env"`
	Type   interfaces.KeyType `json:"type"`
	Prefix string             `json:"prefix"`
}

// Result is returned to the upstream caller on a granted request.
type Result struct {
	OK             bool           `json:"ok"`
	Partner        PartnerSummary `json:"partner"`
	APIKey         KeySummary     `json:"apiKey"`
	Scope          string         `json:"scope"`
	Route          string         `json:"route"`
	Method         string         `json:"method"`
	EffectiveLimit int64          `json:"effectiveLimit"`
	WindowSeconds  int64          `json:"windowSeconds"`
	LatencyMs      int64          `json:"latencyMs"`
}

// RateLimitError carries the limit metadata a 429 response includes.
type RateLimitError struct {
	Limit         int64
	WindowSeconds int64
	Route         string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit %d per %ds on %s", e.Limit, e.WindowSeconds, e.Route)
}

// Unwrap lets callers match with errors.Is(err, interfaces.ErrRateLimitExceeded).
func (e *RateLimitError) Unwrap() error { return interfaces.ErrRateLimitExceeded }

// VerifyAccess authorizes one upstream request. Failures surface as the
// sentinel errors of the interfaces package; rate-limit rejections as
// *RateLimitError.
func (g *Gateway) VerifyAccess(ctx context.Context, input Input) (*Result, error) {
	started := g.now()

	route, ok := g.routes.Lookup(input.Route)
	if !ok {
		return nil, fmt.Errorf("%w %q", interfaces.ErrUnrecognizedRoute, input.Route)
	}

	key, err := g.keys.Verify(ctx, input.Bearer)
	if err != nil {
		return nil, err
	}

	partner, err := g.store.Partners().GetByID(ctx, key.PartnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}

	var plan *interfaces.TierPlan
	plan, err = g.store.Tiers().Get(ctx, partner.Tier)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("failed to load tier plan: %w", err)
	}

	if !g.scopeAllowed(key, plan, route.Scope) {
		return nil, interfaces.ErrInsufficientScope
	}

	effectiveLimit := int64(0)
	if plan != nil {
		effectiveLimit = plan.RequestLimit
	}
	if partner.RequestLimitOverride != nil {
		effectiveLimit = *partner.RequestLimitOverride
	}
	if effectiveLimit <= 0 {
		return nil, interfaces.ErrNoAllowance
	}

	windowStart := time.Unix(started.Unix()/g.windowSeconds*g.windowSeconds, 0).UTC()
	windowEnd := windowStart.Add(time.Duration(g.windowSeconds) * time.Second)
	count, err := g.store.Usage().IncrementWindow(ctx, interfaces.WindowKey{
		PartnerID:   key.PartnerID,
		APIKeyID:    key.ID,
		Route:       route.Path,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}, route.Cost)
	if err != nil {
		return nil, fmt.Errorf("rate-limit accounting failed: %w", err)
	}

	if count > effectiveLimit {
		g.logRequest(ctx, key, route, 429, input.ClientIP)
		return nil, &RateLimitError{Limit: effectiveLimit, WindowSeconds: g.windowSeconds, Route: route.Path}
	}

	g.logRequest(ctx, key, route, 200, input.ClientIP)
	g.keys.TouchLastUsed(ctx, key.ID)

	return &Result{
		OK:             true,
		Partner:        PartnerSummary{ID: partner.ID, Name: partner.Name, Tier: partner.Tier},
		APIKey:         KeySummary{ID: key.ID, Env: key.Env, Type: key.Type, Prefix: key.Prefix},
		Scope:          route.Scope,
		Route:          route.Path,
		Method:         input.Method,
		EffectiveLimit: effectiveLimit,
		WindowSeconds:  g.windowSeconds,
		LatencyMs:      g.now().Sub(started).Milliseconds(),
	}, nil
}

// scopeAllowed checks the key's explicit grants first, then the tier's
// feature list.
func (g *Gateway) scopeAllowed(key *interfaces.APIKey, plan *interfaces.TierPlan, required string) bool {
	for _, s := range key.Scopes {
		if s == required {
			return true
		}
	}
	if plan == nil {
		return false
	}
	for _, f := range plan.Features {
		if f == required {
			return true
		}
	}
	return false
}

// logRequest appends an audit row. Failures are logged and swallowed so the
// auth/quota decision is never blocked on audit I/O.
func (g *Gateway) logRequest(ctx context.Context, key *interfaces.APIKey, route routeconfig.Route, status int, clientIP string) {
	var ipHash *string
	if clientIP != "" {
		h := cryptoutils.SHA256Hex(clientIP)
		ipHash = &h
	}
	err := g.store.Usage().LogRequest(ctx, &interfaces.RequestLog{
		ID:         uuid.NewString(),
		PartnerID:  key.PartnerID,
		APIKeyID:   key.ID,
		Route:      route.Path,
		StatusCode: status,
		CostUnits:  route.Cost,
		IPHash:     ipHash,
		CreatedAt:  g.now(),
	})
	if err != nil {
		g.log.Warn("request log write failed", "err", err, "route", route.Path, "status", status)
	}
}
