package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// querier abstracts the pool from an open transaction so repositories can
// run in either.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the production store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresStore connects, verifies connectivity and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool, q: pool}, nil
}

func (s *PostgresStore) APIKeys() interfaces.APIKeyRepository   { return &pgKeys{q: s.q} }
func (s *PostgresStore) Partners() interfaces.PartnerRepository { return &pgPartners{q: s.q} }
func (s *PostgresStore) Tiers() interfaces.TierRepository       { return &pgTiers{q: s.q} }
func (s *PostgresStore) Admins() interfaces.AdminRepository     { return &pgAdmins{q: s.q} }
func (s *PostgresStore) Nonces() interfaces.NonceRepository     { return &pgNonces{q: s.q} }
func (s *PostgresStore) JTIs() interfaces.JTIRepository         { return &pgJTIs{q: s.q} }
func (s *PostgresStore) Usage() interfaces.UsageRepository      { return &pgUsage{q: s.q} }

// InTx runs fn against a store view bound to one transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(interfaces.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&PostgresStore{pool: s.pool, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }

// mapError normalizes driver errors to the repository sentinels.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return interfaces.ErrDuplicate
	}
	return err
}

type pgKeys struct{ q querier }

const keyColumns = `id, partner_id, prefix, env, type, key_hash,
	secret_ciphertext, secret_iv, secret_tag, wrapped_dek, kms_key_id,
	revoked, expires_at, created_at, last_used_at, last_revealed_at, revealed_count`

func (r *pgKeys) Create(ctx context.Context, key *interfaces.APIKey) error {
	const query = `
		INSERT INTO api_keys (id, partner_id, prefix, env, type, key_hash,
			secret_ciphertext, secret_iv, secret_tag, wrapped_dek, kms_key_id,
			revoked, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.q.Exec(ctx, query,
		key.ID, key.PartnerID, key.Prefix, key.Env, key.Type, key.KeyHash,
		key.SecretCiphertext, key.SecretIV, key.SecretTag, key.WrappedDEK, key.KMSKeyID,
		key.Revoked, key.ExpiresAt, key.CreatedAt)
	return mapError(err)
}

func (r *pgKeys) AddScopes(ctx context.Context, apiKeyID string, scopes []string) error {
	const query = `
		INSERT INTO api_key_scopes (api_key_id, scope)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	for _, scope := range scopes {
		if _, err := r.q.Exec(ctx, query, apiKeyID, scope); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (r *pgKeys) scanKey(row pgx.Row) (*interfaces.APIKey, error) {
	var key interfaces.APIKey
	err := row.Scan(&key.ID, &key.PartnerID, &key.Prefix, &key.Env, &key.Type, &key.KeyHash,
		&key.SecretCiphertext, &key.SecretIV, &key.SecretTag, &key.WrappedDEK, &key.KMSKeyID,
		&key.Revoked, &key.ExpiresAt, &key.CreatedAt, &key.LastUsedAt, &key.LastRevealedAt, &key.RevealedCount)
	if err != nil {
		return nil, mapError(err)
	}
	return &key, nil
}

func (r *pgKeys) loadScopes(ctx context.Context, key *interfaces.APIKey) error {
	const query = `SELECT scope FROM api_key_scopes WHERE api_key_id = $1 ORDER BY scope`
	rows, err := r.q.Query(ctx, query, key.ID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return err
		}
		key.Scopes = append(key.Scopes, scope)
	}
	return rows.Err()
}

func (r *pgKeys) GetByPrefix(ctx context.Context, prefix string) (*interfaces.APIKey, error) {
	key, err := r.scanKey(r.q.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE prefix = $1`, prefix))
	if err != nil {
		return nil, err
	}
	if err := r.loadScopes(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (r *pgKeys) GetByID(ctx context.Context, id string) (*interfaces.APIKey, error) {
	key, err := r.scanKey(r.q.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadScopes(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (r *pgKeys) ListByPartner(ctx context.Context, partnerID string, includeRevoked bool) ([]*interfaces.APIKey, error) {
	const query = `
		SELECT ` + keyColumns + ` FROM api_keys
		WHERE partner_id = $1 AND (NOT revoked OR $2)
		ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, partnerID, includeRevoked)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var keys []*interfaces.APIKey
	for rows.Next() {
		key, err := r.scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := r.loadScopes(ctx, key); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (r *pgKeys) Revoke(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, `UPDATE api_keys SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *pgKeys) MarkRevealed(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE api_keys
		SET last_revealed_at = $2, revealed_count = revealed_count + 1
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *pgKeys) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

type pgPartners struct{ q querier }

func (r *pgPartners) Create(ctx context.Context, partner *interfaces.Partner) error {
	const query = `
		INSERT INTO partners (id, name, contact, tier, request_limit_override, multi_drip, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query,
		partner.ID, partner.Name, partner.Contact, partner.Tier,
		partner.RequestLimitOverride, partner.MultiDrip, partner.CreatedAt, partner.UpdatedAt)
	return mapError(err)
}

func (r *pgPartners) GetByID(ctx context.Context, id string) (*interfaces.Partner, error) {
	const query = `
		SELECT id, name, contact, tier, request_limit_override, multi_drip, created_at, updated_at
		FROM partners WHERE id = $1`
	var partner interfaces.Partner
	err := r.q.QueryRow(ctx, query, id).Scan(
		&partner.ID, &partner.Name, &partner.Contact, &partner.Tier,
		&partner.RequestLimitOverride, &partner.MultiDrip, &partner.CreatedAt, &partner.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &partner, nil
}

func (r *pgPartners) CreateAccount(ctx context.Context, account *interfaces.PartnerAccount) error {
	const query = `
		INSERT INTO partner_accounts (id, partner_id, kind, account_id, network, chain_id, is_login_identity, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		account.ID, account.PartnerID, account.Kind, account.AccountID, account.Network,
		account.ChainID, account.IsLoginIdentity, account.Role, account.CreatedAt)
	return mapError(err)
}

const accountColumns = `id, partner_id, kind, account_id, network, chain_id, is_login_identity, role, created_at`

func scanAccount(row pgx.Row) (*interfaces.PartnerAccount, error) {
	var account interfaces.PartnerAccount
	err := row.Scan(&account.ID, &account.PartnerID, &account.Kind, &account.AccountID,
		&account.Network, &account.ChainID, &account.IsLoginIdentity, &account.Role, &account.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &account, nil
}

func (r *pgPartners) ListAccounts(ctx context.Context, partnerID string) ([]*interfaces.PartnerAccount, error) {
	const query = `
		SELECT ` + accountColumns + ` FROM partner_accounts
		WHERE partner_id = $1 ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, partnerID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var accounts []*interfaces.PartnerAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *pgPartners) FindLoginIdentity(ctx context.Context, kind interfaces.WalletKind, accountID, network string, chainID *int64) (*interfaces.PartnerAccount, error) {
	const query = `
		SELECT ` + accountColumns + ` FROM partner_accounts
		WHERE is_login_identity
		  AND kind = $1
		  AND lower(account_id) = lower($2)
		  AND network = $3
		  AND chain_id IS NOT DISTINCT FROM $4
		LIMIT 1`
	return scanAccount(r.q.QueryRow(ctx, query, kind, accountID, network, chainID))
}

func (r *pgPartners) FindAnyLoginIdentity(ctx context.Context, accountID string) (*interfaces.PartnerAccount, error) {
	const query = `
		SELECT ` + accountColumns + ` FROM partner_accounts
		WHERE is_login_identity AND lower(account_id) = lower($1)
		LIMIT 1`
	return scanAccount(r.q.QueryRow(ctx, query, accountID))
}

type pgTiers struct{ q querier }

func (r *pgTiers) Get(ctx context.Context, name interfaces.Tier) (*interfaces.TierPlan, error) {
	const query = `SELECT name, request_limit, features FROM tier_plans WHERE name = $1`
	var plan interfaces.TierPlan
	if err := r.q.QueryRow(ctx, query, name).Scan(&plan.Name, &plan.RequestLimit, &plan.Features); err != nil {
		return nil, mapError(err)
	}
	return &plan, nil
}

func (r *pgTiers) Upsert(ctx context.Context, plan *interfaces.TierPlan) error {
	const query = `
		INSERT INTO tier_plans (name, request_limit, features)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET request_limit = $2, features = $3`
	_, err := r.q.Exec(ctx, query, plan.Name, plan.RequestLimit, plan.Features)
	return mapError(err)
}

type pgAdmins struct{ q querier }

func (r *pgAdmins) FindByWallet(ctx context.Context, evm, hedera string) (*interfaces.AdminAccount, error) {
	const query = `
		SELECT id, wallet_evm, wallet_hedera, role, created_at
		FROM admin_accounts
		WHERE ($1 <> '' AND lower(wallet_evm) = lower($1))
		   OR ($2 <> '' AND wallet_hedera = $2)
		LIMIT 1`
	var admin interfaces.AdminAccount
	err := r.q.QueryRow(ctx, query, evm, hedera).Scan(
		&admin.ID, &admin.WalletEVM, &admin.WalletHedera, &admin.Role, &admin.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &admin, nil
}

func (r *pgAdmins) Upsert(ctx context.Context, admin *interfaces.AdminAccount) error {
	const query = `
		INSERT INTO admin_accounts (id, wallet_evm, wallet_hedera, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET wallet_evm = $2, wallet_hedera = $3, role = $4`
	_, err := r.q.Exec(ctx, query,
		admin.ID, admin.WalletEVM, admin.WalletHedera, admin.Role, admin.CreatedAt)
	return mapError(err)
}

type pgNonces struct{ q querier }

func (r *pgNonces) Create(ctx context.Context, nonce *interfaces.LoginNonce) error {
	const query = `
		INSERT INTO login_nonces (id, audience, kind, account_id, network, chain_id, nonce, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		nonce.ID, nonce.Audience, nonce.Kind, nonce.AccountID, nonce.Network,
		nonce.ChainID, nonce.Nonce, nonce.ExpiresAt, nonce.CreatedAt)
	return mapError(err)
}

func (r *pgNonces) FindFresh(ctx context.Context, audience interfaces.NonceAudience, nonce string, now time.Time) (*interfaces.LoginNonce, error) {
	const query = `
		SELECT id, audience, kind, account_id, network, chain_id, nonce, expires_at, consumed_at, created_at
		FROM login_nonces
		WHERE audience = $1 AND nonce = $2 AND consumed_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`
	var row interfaces.LoginNonce
	err := r.q.QueryRow(ctx, query, audience, nonce, now).Scan(
		&row.ID, &row.Audience, &row.Kind, &row.AccountID, &row.Network,
		&row.ChainID, &row.Nonce, &row.ExpiresAt, &row.ConsumedAt, &row.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &row, nil
}

func (r *pgNonces) Consume(ctx context.Context, id string, at time.Time) error {
	// Conditional update: of two racing consumers exactly one sees a row
	// affected.
	const query = `
		UPDATE login_nonces SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2`
	tag, err := r.q.Exec(ctx, query, id, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrInvalidOrExpiredNonce
	}
	return nil
}

type pgJTIs struct{ q querier }

func (r *pgJTIs) Register(ctx context.Context, row *interfaces.SecureTokenJTI) error {
	const query = `
		INSERT INTO secure_token_jtis (jti, expires_at, partner_id, member_id, admin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query,
		row.JTI, row.ExpiresAt, row.PartnerID, row.MemberID, row.AdminID, row.CreatedAt)
	return mapError(err)
}

func (r *pgJTIs) Consume(ctx context.Context, jti string, at time.Time) error {
	const query = `
		UPDATE secure_token_jtis SET used_at = $2
		WHERE jti = $1 AND used_at IS NULL AND expires_at > $2`
	tag, err := r.q.Exec(ctx, query, jti, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish the exact single-use failure for the client.
	var usedAt *time.Time
	var expiresAt time.Time
	err = r.q.QueryRow(ctx,
		`SELECT used_at, expires_at FROM secure_token_jtis WHERE jti = $1`, jti).
		Scan(&usedAt, &expiresAt)
	if err != nil {
		if errors.Is(mapError(err), interfaces.ErrNotFound) {
			return interfaces.ErrUnknownJTI
		}
		return err
	}
	if usedAt != nil {
		return interfaces.ErrUsedJTI
	}
	return interfaces.ErrExpiredJTI
}

type pgUsage struct{ q querier }

func (r *pgUsage) IncrementWindow(ctx context.Context, key interfaces.WindowKey, cost int64) (int64, error) {
	const query = `
		INSERT INTO usage_windows (partner_id, api_key_id, route, window_start, window_end, count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (partner_id, api_key_id, route, window_start)
		DO UPDATE SET count = usage_windows.count + $6
		RETURNING count`
	var count int64
	err := r.q.QueryRow(ctx, query,
		key.PartnerID, key.APIKeyID, key.Route, key.WindowStart, key.WindowEnd, cost).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

func (r *pgUsage) LogRequest(ctx context.Context, log *interfaces.RequestLog) error {
	const query = `
		INSERT INTO request_logs (id, partner_id, api_key_id, route, status_code, cost_units, ip_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.Exec(ctx, query,
		log.ID, log.PartnerID, log.APIKeyID, log.Route, log.StatusCode, log.CostUnits, log.IPHash, log.CreatedAt)
	return mapError(err)
}
