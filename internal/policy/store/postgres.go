package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arp/internal/policy/models"
	"arp/pkg/platform/sentinel"
)

// PostgresPolicies persists policy documents. The version bump and the
// replacement happen in one statement, so readers never observe a document
// with a stale version.
type PostgresPolicies struct {
	pool *pgxpool.Pool
}

// NewPostgresPolicies constructs a PostgreSQL-backed policy store.
func NewPostgresPolicies(pool *pgxpool.Pool) *PostgresPolicies {
	return &PostgresPolicies{pool: pool}
}

const selectPolicy = `
	SELECT wallet_id, per_tx_limit, period_limit, period_seconds, allow_list, version, updated_at
	FROM wallet_policies
	WHERE wallet_id = $1
`

func (s *PostgresPolicies) Get(ctx context.Context, walletID string) (*models.Policy, error) {
	var (
		p             models.Policy
		periodSeconds int64
	)
	err := s.pool.QueryRow(ctx, selectPolicy, walletID).Scan(
		&p.WalletID, &p.PerTxLimit, &p.PeriodLimit, &periodSeconds,
		&p.AllowList, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	p.Period = time.Duration(periodSeconds) * time.Second
	return &p, nil
}

const replacePolicy = `
	INSERT INTO wallet_policies (wallet_id, per_tx_limit, period_limit, period_seconds, allow_list, version, updated_at)
	VALUES ($1, $2, $3, $4, $5, 1, $6)
	ON CONFLICT (wallet_id) DO UPDATE SET
		per_tx_limit = EXCLUDED.per_tx_limit,
		period_limit = EXCLUDED.period_limit,
		period_seconds = EXCLUDED.period_seconds,
		allow_list = EXCLUDED.allow_list,
		version = wallet_policies.version + 1,
		updated_at = EXCLUDED.updated_at
	RETURNING version
`

func (s *PostgresPolicies) Replace(ctx context.Context, policy *models.Policy) (*models.Policy, error) {
	out := *policy
	out.AllowList = append([]string(nil), policy.AllowList...)

	err := s.pool.QueryRow(ctx, replacePolicy,
		policy.WalletID, policy.PerTxLimit, policy.PeriodLimit,
		int64(policy.Period/time.Second), policy.AllowList, policy.UpdatedAt,
	).Scan(&out.Version)
	if err != nil {
		return nil, fmt.Errorf("replace policy: %w", err)
	}
	return &out, nil
}
