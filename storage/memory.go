package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// MemoryStore is a mutex-guarded in-process store. It backs tests and local
// development; transactions degrade to serialized execution under the store
// lock, which preserves the atomicity the repositories promise.
type MemoryStore struct {
	mu sync.Mutex

	keys      map[string]*interfaces.APIKey // by id
	byPrefix  map[string]string             // prefix -> id
	partners  map[string]*interfaces.Partner
	accounts  map[string]*interfaces.PartnerAccount
	tiers     map[interfaces.Tier]*interfaces.TierPlan
	admins    map[string]*interfaces.AdminAccount
	nonces    map[string]*interfaces.LoginNonce
	jtis      map[string]*interfaces.SecureTokenJTI
	windows   map[string]int64
	requests  []*interfaces.RequestLog
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]*interfaces.APIKey),
		byPrefix: make(map[string]string),
		partners: make(map[string]*interfaces.Partner),
		accounts: make(map[string]*interfaces.PartnerAccount),
		tiers:    make(map[interfaces.Tier]*interfaces.TierPlan),
		admins:   make(map[string]*interfaces.AdminAccount),
		nonces:   make(map[string]*interfaces.LoginNonce),
		jtis:     make(map[string]*interfaces.SecureTokenJTI),
		windows:  make(map[string]int64),
	}
}

func (s *MemoryStore) APIKeys() interfaces.APIKeyRepository   { return (*memKeys)(s) }
func (s *MemoryStore) Partners() interfaces.PartnerRepository { return (*memPartners)(s) }
func (s *MemoryStore) Tiers() interfaces.TierRepository       { return (*memTiers)(s) }
func (s *MemoryStore) Admins() interfaces.AdminRepository     { return (*memAdmins)(s) }
func (s *MemoryStore) Nonces() interfaces.NonceRepository     { return (*memNonces)(s) }
func (s *MemoryStore) JTIs() interfaces.JTIRepository         { return (*memJTIs)(s) }
func (s *MemoryStore) Usage() interfaces.UsageRepository      { return (*memUsage)(s) }

// InTx serializes fn under the store lock. Writes are applied directly;
// rollback on error is not simulated, matching the store's test-only role.
func (s *MemoryStore) InTx(ctx context.Context, fn func(interfaces.Store) error) error {
	return fn(s)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// RequestLogs returns a copy of the audit rows, for tests.
func (s *MemoryStore) RequestLogs() []*interfaces.RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*interfaces.RequestLog(nil), s.requests...)
}

type memKeys MemoryStore

func (r *memKeys) Create(ctx context.Context, key *interfaces.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.keys[key.ID]; exists {
		return interfaces.ErrDuplicate
	}
	if _, exists := r.byPrefix[key.Prefix]; exists {
		return interfaces.ErrDuplicate
	}
	cp := *key
	cp.Scopes = append([]string(nil), key.Scopes...)
	r.keys[key.ID] = &cp
	r.byPrefix[key.Prefix] = key.ID
	return nil
}

func (r *memKeys) AddScopes(ctx context.Context, apiKeyID string, scopes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[apiKeyID]
	if !ok {
		return interfaces.ErrNotFound
	}
	for _, s := range scopes {
		found := false
		for _, existing := range key.Scopes {
			if existing == s {
				found = true
				break
			}
		}
		if !found {
			key.Scopes = append(key.Scopes, s)
		}
	}
	return nil
}

func (r *memKeys) GetByPrefix(ctx context.Context, prefix string) (*interfaces.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPrefix[prefix]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyKey(r.keys[id]), nil
}

func (r *memKeys) GetByID(ctx context.Context, id string) (*interfaces.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyKey(key), nil
}

func (r *memKeys) ListByPartner(ctx context.Context, partnerID string, includeRevoked bool) ([]*interfaces.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*interfaces.APIKey
	for _, key := range r.keys {
		if key.PartnerID != partnerID {
			continue
		}
		if key.Revoked && !includeRevoked {
			continue
		}
		out = append(out, copyKey(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memKeys) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	key.Revoked = true
	return nil
}

func (r *memKeys) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	key.LastRevealedAt = &at
	key.RevealedCount++
	return nil
}

func (r *memKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	key.LastUsedAt = &at
	return nil
}

func copyKey(key *interfaces.APIKey) *interfaces.APIKey {
	cp := *key
	cp.Scopes = append([]string(nil), key.Scopes...)
	return &cp
}

type memPartners MemoryStore

func (r *memPartners) Create(ctx context.Context, partner *interfaces.Partner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.partners[partner.ID]; exists {
		return interfaces.ErrDuplicate
	}
	cp := *partner
	r.partners[partner.ID] = &cp
	return nil
}

func (r *memPartners) GetByID(ctx context.Context, id string) (*interfaces.Partner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	partner, ok := r.partners[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *partner
	return &cp, nil
}

func (r *memPartners) CreateAccount(ctx context.Context, account *interfaces.PartnerAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.ID]; exists {
		return interfaces.ErrDuplicate
	}
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memPartners) ListAccounts(ctx context.Context, partnerID string) ([]*interfaces.PartnerAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*interfaces.PartnerAccount
	for _, account := range r.accounts {
		if account.PartnerID == partnerID {
			cp := *account
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memPartners) FindLoginIdentity(ctx context.Context, kind interfaces.WalletKind, accountID, network string, chainID *int64) (*interfaces.PartnerAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if !account.IsLoginIdentity || account.Kind != kind || account.Network != network {
			continue
		}
		if !walletEqual(account.Kind, account.AccountID, accountID) {
			continue
		}
		if (account.ChainID == nil) != (chainID == nil) {
			continue
		}
		if account.ChainID != nil && *account.ChainID != *chainID {
			continue
		}
		cp := *account
		return &cp, nil
	}
	return nil, interfaces.ErrNotFound
}

func (r *memPartners) FindAnyLoginIdentity(ctx context.Context, accountID string) (*interfaces.PartnerAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.IsLoginIdentity && walletEqual(account.Kind, account.AccountID, accountID) {
			cp := *account
			return &cp, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func walletEqual(kind interfaces.WalletKind, a, b string) bool {
	if kind == interfaces.WalletEVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}

type memTiers MemoryStore

func (r *memTiers) Get(ctx context.Context, name interfaces.Tier) (*interfaces.TierPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plan, ok := r.tiers[name]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *plan
	cp.Features = append([]string(nil), plan.Features...)
	return &cp, nil
}

func (r *memTiers) Upsert(ctx context.Context, plan *interfaces.TierPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	cp.Features = append([]string(nil), plan.Features...)
	r.tiers[plan.Name] = &cp
	return nil
}

type memAdmins MemoryStore

func (r *memAdmins) FindByWallet(ctx context.Context, evm, hedera string) (*interfaces.AdminAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, admin := range r.admins {
		if evm != "" && admin.WalletEVM != nil && strings.EqualFold(*admin.WalletEVM, evm) {
			cp := *admin
			return &cp, nil
		}
		if hedera != "" && admin.WalletHedera != nil && *admin.WalletHedera == hedera {
			cp := *admin
			return &cp, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (r *memAdmins) Upsert(ctx context.Context, admin *interfaces.AdminAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *admin
	r.admins[admin.ID] = &cp
	return nil
}

type memNonces MemoryStore

func (r *memNonces) Create(ctx context.Context, nonce *interfaces.LoginNonce) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nonces[nonce.ID]; exists {
		return interfaces.ErrDuplicate
	}
	cp := *nonce
	r.nonces[nonce.ID] = &cp
	return nil
}

func (r *memNonces) FindFresh(ctx context.Context, audience interfaces.NonceAudience, nonce string, now time.Time) (*interfaces.LoginNonce, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var freshest *interfaces.LoginNonce
	for _, row := range r.nonces {
		if row.Audience != audience || row.Nonce != nonce {
			continue
		}
		if row.ConsumedAt != nil || !row.ExpiresAt.After(now) {
			continue
		}
		if freshest == nil || row.CreatedAt.After(freshest.CreatedAt) {
			freshest = row
		}
	}
	if freshest == nil {
		return nil, interfaces.ErrNotFound
	}
	cp := *freshest
	return &cp, nil
}

func (r *memNonces) Consume(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.nonces[id]
	if !ok || row.ConsumedAt != nil || !row.ExpiresAt.After(at) {
		return interfaces.ErrInvalidOrExpiredNonce
	}
	row.ConsumedAt = &at
	return nil
}

type memJTIs MemoryStore

func (r *memJTIs) Register(ctx context.Context, row *interfaces.SecureTokenJTI) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jtis[row.JTI]; exists {
		return interfaces.ErrDuplicate
	}
	cp := *row
	r.jtis[row.JTI] = &cp
	return nil
}

func (r *memJTIs) Consume(ctx context.Context, jti string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.jtis[jti]
	if !ok {
		return interfaces.ErrUnknownJTI
	}
	if row.UsedAt != nil {
		return interfaces.ErrUsedJTI
	}
	if !row.ExpiresAt.After(at) {
		return interfaces.ErrExpiredJTI
	}
	row.UsedAt = &at
	return nil
}

type memUsage MemoryStore

func windowMapKey(key interfaces.WindowKey) string {
	return key.PartnerID + "|" + key.APIKeyID + "|" + key.Route + "|" + key.WindowStart.UTC().Format(time.RFC3339)
}

func (r *memUsage) IncrementWindow(ctx context.Context, key interfaces.WindowKey, cost int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := windowMapKey(key)
	r.windows[k] += cost
	return r.windows[k], nil
}

func (r *memUsage) LogRequest(ctx context.Context, log *interfaces.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.requests = append(r.requests, &cp)
	return nil
}
