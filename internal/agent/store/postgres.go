package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"arp/internal/agent/models"
	"arp/pkg/platform/sentinel"
)

// Postgres persists agents and the settlement ledger in PostgreSQL. Queries
// are fixed and named; listing filters map to bound parameters, never to
// string-built SQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const insertAgent = `
	INSERT INTO agents (
		address, name, description, total_staked, unified_score, arp_score,
		trust_score, trust_version, tier, transaction_count, average_rating,
		rating_count, verified, active, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`

func (s *Postgres) CreateAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.pool.Exec(ctx, insertAgent,
		a.Address, a.Name, a.Description, a.TotalStaked, a.UnifiedScore, a.ArpScore,
		a.TrustScore, a.TrustVersion, a.Tier, a.TransactionCount, a.AverageRating,
		a.RatingCount, a.Verified, a.Active, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

const selectAgent = `
	SELECT address, name, description, total_staked, unified_score, arp_score,
		trust_score, trust_version, tier, transaction_count, average_rating,
		rating_count, verified, active, created_at, deactivated_at
	FROM agents
`

func (s *Postgres) GetAgent(ctx context.Context, address string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, selectAgent+` WHERE address = $1`, address)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

const updateAgent = `
	UPDATE agents SET
		name = $2, description = $3, total_staked = $4, unified_score = $5,
		arp_score = $6, trust_score = $7, trust_version = $8, tier = $9,
		transaction_count = $10, average_rating = $11, rating_count = $12,
		verified = $13, active = $14, deactivated_at = $15
	WHERE address = $1
`

func (s *Postgres) UpdateAgent(ctx context.Context, a *models.Agent) error {
	tag, err := s.pool.Exec(ctx, updateAgent,
		a.Address, a.Name, a.Description, a.TotalStaked, a.UnifiedScore,
		a.ArpScore, a.TrustScore, a.TrustVersion, a.Tier,
		a.TransactionCount, a.AverageRating, a.RatingCount,
		a.Verified, a.Active, a.DeactivatedAt,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// sortColumns maps validated sort fields to column names. ParseSortField has
// already rejected anything outside this set.
var sortColumns = map[SortField]string{
	SortByUnifiedScore:     "unified_score",
	SortByCreatedAt:        "created_at",
	SortByTotalStaked:      "total_staked",
	SortByTransactionCount: "transaction_count",
}

func (s *Postgres) ListAgents(ctx context.Context, filter ListFilter) ([]*models.Agent, int, error) {
	column, ok := sortColumns[filter.Sort]
	if !ok {
		column = "unified_score"
	}
	direction := "DESC"
	if filter.Order == OrderAsc {
		direction = "ASC"
	}

	where := ` WHERE ($1::boolean OR active) AND ($2 = '' OR tier = $2)
		AND ($3::timestamptz IS NULL OR created_at >= $3)`
	args := []any{filter.IncludeInactive, string(filter.Tier), nullableTime(filter.Since)}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}

	// ORDER BY is assembled from the fixed column map and direction keywords
	// only; no request data reaches the SQL text.
	query := fmt.Sprintf(
		`%s%s ORDER BY %s %s, created_at ASC, address ASC LIMIT $4 OFFSET $5`,
		selectAgent, where, column, direction,
	)
	rows, err := s.pool.Query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	return agents, total, nil
}

func (s *Postgres) ListAllActive(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, selectAgent+` WHERE active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

const insertTransaction = `
	INSERT INTO transactions (id, from_address, to_address, value, hash, created_at)
	VALUES ($1,$2,$3,$4,$5,$6)
`

func (s *Postgres) RecordTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.pool.Exec(ctx, insertTransaction,
		tx.ID, tx.From, tx.To, tx.Value, tx.Hash, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

const selectTransaction = `
	SELECT t.id, t.from_address, t.to_address, t.value, t.hash, t.created_at,
		r.id, r.score, r.feedback, r.created_at
	FROM transactions t
	LEFT JOIN ratings r ON r.transaction_id = t.id
`

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx, selectTransaction+` WHERE t.id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

const insertRating = `
	INSERT INTO ratings (id, transaction_id, score, feedback, created_at)
	SELECT $1, $2, $3, $4, $5
	WHERE EXISTS (SELECT 1 FROM transactions WHERE id = $2)
`

func (s *Postgres) RecordRating(ctx context.Context, rating *models.Rating) error {
	tag, err := s.pool.Exec(ctx, insertRating,
		rating.ID, rating.TransactionID, rating.Score, rating.Feedback, rating.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// ratings.transaction_id carries a unique constraint: one rating
			// per transaction, enforced by the database.
			return sentinel.ErrAlreadyRated
		}
		return fmt.Errorf("record rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByAgent(ctx context.Context, address string, limit int) ([]*models.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		selectTransaction+` WHERE t.from_address = $1 OR t.to_address = $1
		ORDER BY t.created_at DESC LIMIT $2`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// agentStats is the fixed aggregate query over ratings received by one agent.
const agentStats = `
	SELECT
		COUNT(t.id),
		COALESCE(AVG(r.score), 0),
		COUNT(*) FILTER (WHERE r.score > 0),
		COUNT(*) FILTER (WHERE r.score < 0)
	FROM transactions t
	LEFT JOIN ratings r ON r.transaction_id = t.id
	WHERE t.to_address = $1
`

func (s *Postgres) Stats(ctx context.Context, address string) (*models.AgentStats, error) {
	stats := &models.AgentStats{}
	err := s.pool.QueryRow(ctx, agentStats, address).Scan(
		&stats.TotalTransactions, &stats.AverageRating,
		&stats.PositiveRatings, &stats.NegativeRatings,
	)
	if err != nil {
		return nil, fmt.Errorf("agent stats: %w", err)
	}
	return stats, nil
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(
		&a.Address, &a.Name, &a.Description, &a.TotalStaked, &a.UnifiedScore,
		&a.ArpScore, &a.TrustScore, &a.TrustVersion, &a.Tier,
		&a.TransactionCount, &a.AverageRating, &a.RatingCount,
		&a.Verified, &a.Active, &a.CreatedAt, &a.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var ratingID, feedback *string
	var score *int
	var ratedAt *time.Time
	err := row.Scan(
		&tx.ID, &tx.From, &tx.To, &tx.Value, &tx.Hash, &tx.CreatedAt,
		&ratingID, &score, &feedback, &ratedAt,
	)
	if err != nil {
		return nil, err
	}
	if ratingID != nil && score != nil {
		tx.Rating = &models.Rating{
			ID:            *ratingID,
			TransactionID: tx.ID,
			Score:         *score,
			CreatedAt:     *ratedAt,
		}
		if feedback != nil {
			tx.Rating.Feedback = *feedback
		}
	}
	return &tx, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
