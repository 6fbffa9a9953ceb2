package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arp/internal/agent/models"
	"arp/pkg/platform/sentinel"
)

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n+1)
}

func seedAgent(t *testing.T, s *InMemory, n int, score int, tier models.Tier, created time.Time) *models.Agent {
	t.Helper()
	agent, err := models.NewAgent(addr(n), fmt.Sprintf("agent-%d", n), "", 0, created)
	require.NoError(t, err)
	agent.UnifiedScore = score
	agent.Tier = tier
	require.NoError(t, s.CreateAgent(context.Background(), agent))
	return agent
}

func seedTx(t *testing.T, s *InMemory, from, to int, created time.Time) *models.Transaction {
	t.Helper()
	tx, err := models.NewTransaction(addr(from), addr(to), 1, "", created)
	require.NoError(t, err)
	require.NoError(t, s.RecordTransaction(context.Background(), tx))
	return tx
}

func TestCreateAgentRejectsDuplicateAddress(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedAgent(t, s, 0, 10, models.TierEstablished, now)

	dup, err := models.NewAgent(addr(0), "impostor", "", 0, now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.CreateAgent(context.Background(), dup), sentinel.ErrConflict)
}

func TestGetAgentReturnsIsolatedCopy(t *testing.T) {
	s := NewInMemory()
	seedAgent(t, s, 0, 10, models.TierEstablished, time.Now())

	first, err := s.GetAgent(context.Background(), addr(0))
	require.NoError(t, err)
	first.UnifiedScore = 99

	second, err := s.GetAgent(context.Background(), addr(0))
	require.NoError(t, err)
	assert.Equal(t, 10, second.UnifiedScore)
}

func TestGetAgentUnknownAddress(t *testing.T) {
	s := NewInMemory()
	_, err := s.GetAgent(context.Background(), addr(0))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestUpdateAgentUnknownAddress(t *testing.T) {
	s := NewInMemory()
	agent, err := models.NewAgent(addr(0), "ghost", "", 0, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdateAgent(context.Background(), agent), sentinel.ErrNotFound)
}

func TestListAgentsExcludesInactiveByDefault(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedAgent(t, s, 0, 10, models.TierEstablished, now)
	gone := seedAgent(t, s, 1, 20, models.TierEstablished, now)
	require.NoError(t, gone.Deactivate(now))
	require.NoError(t, s.UpdateAgent(context.Background(), gone))

	agents, total, err := s.ListAgents(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, agents, 1)
	assert.Equal(t, addr(0), agents[0].Address)

	_, total, err = s.ListAgents(context.Background(), ListFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestListAgentsTierFilter(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedAgent(t, s, 0, 5, models.TierNewcomer, now)
	seedAgent(t, s, 1, 30, models.TierTrusted, now)
	seedAgent(t, s, 2, 40, models.TierTrusted, now)

	agents, total, err := s.ListAgents(context.Background(), ListFilter{Tier: models.TierTrusted})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, agents, 2)
	for _, a := range agents {
		assert.Equal(t, models.TierTrusted, a.Tier)
	}
}

func TestListAgentsDefaultSortIsScoreDescending(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedAgent(t, s, 0, 10, models.TierEstablished, now)
	seedAgent(t, s, 1, 30, models.TierTrusted, now)
	seedAgent(t, s, 2, 20, models.TierEstablished, now)

	agents, _, err := s.ListAgents(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, addr(1), agents[0].Address)
	assert.Equal(t, addr(2), agents[1].Address)
	assert.Equal(t, addr(0), agents[2].Address)
}

func TestListAgentsTieBreakIsStableAcrossOrders(t *testing.T) {
	s := NewInMemory()
	base := time.Now()
	seedAgent(t, s, 1, 10, models.TierEstablished, base.Add(time.Minute))
	seedAgent(t, s, 0, 10, models.TierEstablished, base)

	// Equal scores break by earliest creation then address in both directions.
	for _, order := range []Order{OrderDesc, OrderAsc} {
		agents, _, err := s.ListAgents(context.Background(), ListFilter{Order: order})
		require.NoError(t, err)
		require.Len(t, agents, 2)
		assert.Equal(t, addr(0), agents[0].Address, "order %s", order)
		assert.Equal(t, addr(1), agents[1].Address, "order %s", order)
	}
}

func TestListAgentsSortByCreatedAtAscending(t *testing.T) {
	s := NewInMemory()
	base := time.Now()
	seedAgent(t, s, 0, 10, models.TierEstablished, base.Add(time.Hour))
	seedAgent(t, s, 1, 20, models.TierEstablished, base)

	agents, _, err := s.ListAgents(context.Background(), ListFilter{Sort: SortByCreatedAt, Order: OrderAsc})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, addr(1), agents[0].Address)
}

func TestListAgentsPaginationKeepsFullTotal(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	for i := 0; i < 5; i++ {
		seedAgent(t, s, i, i*10, models.TierNewcomer, now)
	}

	agents, total, err := s.ListAgents(context.Background(), ListFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, agents, 1)

	agents, total, err = s.ListAgents(context.Background(), ListFilter{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, agents)
}

func TestListAllActiveSkipsDeactivated(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	seedAgent(t, s, 0, 10, models.TierEstablished, now)
	gone := seedAgent(t, s, 1, 20, models.TierEstablished, now)
	require.NoError(t, gone.Deactivate(now))
	require.NoError(t, s.UpdateAgent(context.Background(), gone))

	active, err := s.ListAllActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, addr(0), active[0].Address)
}

func TestRecordTransactionRejectsDuplicateID(t *testing.T) {
	s := NewInMemory()
	tx := seedTx(t, s, 0, 1, time.Now())
	assert.ErrorIs(t, s.RecordTransaction(context.Background(), tx), sentinel.ErrConflict)
}

func TestRecordRatingOncePerTransaction(t *testing.T) {
	s := NewInMemory()
	now := time.Now()
	tx := seedTx(t, s, 0, 1, now)

	rating, err := models.NewRating(tx.ID, 4, "solid", now)
	require.NoError(t, err)
	require.NoError(t, s.RecordRating(context.Background(), rating))

	second, err := models.NewRating(tx.ID, -2, "", now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.RecordRating(context.Background(), second), sentinel.ErrAlreadyRated)

	stored, err := s.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Rating)
	assert.Equal(t, 4, stored.Rating.Score)
}

func TestRecordRatingUnknownTransaction(t *testing.T) {
	s := NewInMemory()
	rating, err := models.NewRating("missing", 1, "", time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, s.RecordRating(context.Background(), rating), sentinel.ErrNotFound)
}

func TestListByAgentNewestFirstWithLimit(t *testing.T) {
	s := NewInMemory()
	base := time.Now()
	first := seedTx(t, s, 0, 1, base)
	seedTx(t, s, 2, 3, base.Add(time.Second)) // unrelated parties
	second := seedTx(t, s, 1, 0, base.Add(2*time.Second))
	third := seedTx(t, s, 0, 2, base.Add(3*time.Second))

	txs, err := s.ListByAgent(context.Background(), addr(0), 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, third.ID, txs[0].ID)
	assert.Equal(t, second.ID, txs[1].ID)

	txs, err = s.ListByAgent(context.Background(), addr(0), 0)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, first.ID, txs[2].ID)
}

func TestStatsCountsOnlyReceivedRatings(t *testing.T) {
	s := NewInMemory()
	now := time.Now()

	rate := func(tx *models.Transaction, score int) {
		r, err := models.NewRating(tx.ID, score, "", now)
		require.NoError(t, err)
		require.NoError(t, s.RecordRating(context.Background(), r))
	}
	rate(seedTx(t, s, 1, 0, now), 5)
	rate(seedTx(t, s, 2, 0, now), -3)
	// An unrated transaction still counts; a sent one never does.
	seedTx(t, s, 3, 0, now)
	rate(seedTx(t, s, 0, 1, now), 5)

	stats, err := s.Stats(context.Background(), addr(0))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTransactions)
	assert.Equal(t, 1, stats.PositiveRatings)
	assert.Equal(t, 1, stats.NegativeRatings)
	assert.InDelta(t, 1.0, stats.AverageRating, 1e-9)
}

func TestStatsEmptyAgent(t *testing.T) {
	s := NewInMemory()
	stats, err := s.Stats(context.Background(), addr(0))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTransactions)
	assert.Zero(t, stats.AverageRating)
}
