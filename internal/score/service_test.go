package score_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arp/internal/agent/models"
	"arp/internal/agent/store"
	"arp/internal/ranking"
	"arp/internal/score"
	dErrors "arp/pkg/domain-errors"
)

type captureSink struct {
	mu     sync.Mutex
	events []score.Event
}

func (c *captureSink) Publish(_ context.Context, event score.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) ofType(t score.EventType) []score.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []score.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc   *score.Service
	store *store.InMemory
	index *ranking.Index
	sink  *captureSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewInMemory()
	index := ranking.New()
	sink := &captureSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := score.NewService(mem, mem, index, logger, score.DefaultConfig(), sink)
	return &fixture{svc: svc, store: mem, index: index, sink: sink}
}

// addr builds a canonical wallet address from a small integer.
func addr(n int) string {
	return fmt.Sprintf("0x%040x", n+1)
}

func TestRegister_SeedsScoreFromStake(t *testing.T) {
	f := newFixture(t)

	agent, err := f.svc.Register(context.Background(), score.RegisterInput{
		Address: addr(0),
		Name:    "settler-one",
		Stake:   2.5,
	})
	require.NoError(t, err)

	assert.Equal(t, 25, agent.UnifiedScore)
	assert.Equal(t, models.TierTrusted, agent.Tier, "full seed reaches TRUSTED at registration")
	assert.True(t, agent.Active)

	ranked, ok := f.index.Get(agent.Address)
	require.True(t, ok, "registration upserts the ranking index")
	assert.Equal(t, 1, ranked.Rank)

	registered := f.sink.ofType(score.EventAgentRegistered)
	require.Len(t, registered, 1)
	assert.Equal(t, agent.Address, registered[0].Address)
}

func TestRegister_MidRangeSeedStaysNewcomer(t *testing.T) {
	f := newFixture(t)

	// A partial seed lands strictly between the tier anchors; under the
	// default thresholds registration is binary, so it must stay NEWCOMER.
	agent, err := f.svc.Register(context.Background(), score.RegisterInput{
		Address: addr(0),
		Name:    "settler-two",
		Stake:   1.5,
	})
	require.NoError(t, err)

	assert.Equal(t, 15, agent.UnifiedScore)
	assert.Equal(t, models.TierNewcomer, agent.Tier)
}

func TestRegister_DuplicateAddressConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "first", Stake: 1})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "second", Stake: 1})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRegister_ConcurrentSameAddress(t *testing.T) {
	f := newFixture(t)
	const attempts = 25

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Register(context.Background(), score.RegisterInput{
				Address: addr(0),
				Name:    fmt.Sprintf("racer-%d", i),
				Stake:   1,
			})
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 1, f.index.Len())
}

func TestSettle_IncrementsBothParties(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(i), Name: fmt.Sprintf("agent-%d", i)})
		require.NoError(t, err)
	}

	tx, err := f.svc.Settle(ctx, score.SettleInput{From: addr(0), To: addr(1), Value: 12.5})
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)

	for i := 0; i < 2; i++ {
		agent, err := f.svc.Get(ctx, addr(i))
		require.NoError(t, err)
		assert.Equal(t, 1, agent.TransactionCount)
		assert.Equal(t, 2, agent.UnifiedScore, "one settlement is worth TxWeight")
	}
}

func TestSettle_DuplicateIDConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(i), Name: fmt.Sprintf("agent-%d", i)})
		require.NoError(t, err)
	}

	in := score.SettleInput{ID: "settlement-1", From: addr(0), To: addr(1), Value: 1}
	_, err := f.svc.Settle(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, in)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	agent, err := f.svc.Get(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, 1, agent.TransactionCount, "replayed settlement leaves scores untouched")
}

func TestSettle_UnknownPartyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "known"})
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, score.SettleInput{From: addr(0), To: addr(9), Value: 1})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestRate_RecomputesReceiverOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(i), Name: fmt.Sprintf("agent-%d", i)})
		require.NoError(t, err)
	}
	tx, err := f.svc.Settle(ctx, score.SettleInput{From: addr(0), To: addr(1), Value: 1})
	require.NoError(t, err)

	rating, err := f.svc.Rate(ctx, tx.ID, 5, "fast settlement")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, rating.TransactionID)

	receiver, err := f.svc.Get(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, 1, receiver.RatingCount)
	assert.Equal(t, 5.0, receiver.AverageRating)
	assert.Equal(t, 52, receiver.UnifiedScore, "seed 0 + 5*10 + 1*2")

	sender, err := f.svc.Get(ctx, addr(0))
	require.NoError(t, err)
	assert.Equal(t, 0, sender.RatingCount, "only the receiver is rated")

	_, err = f.svc.Rate(ctx, tx.ID, 1, "")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "one rating per transaction")

	receiver, err = f.svc.Get(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, 1, receiver.RatingCount)
}

func TestRate_ConcurrentRatingsAllCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const ratings = 50

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(i), Name: fmt.Sprintf("agent-%d", i)})
		require.NoError(t, err)
	}

	txIDs := make([]string, ratings)
	for i := 0; i < ratings; i++ {
		tx, err := f.svc.Settle(ctx, score.SettleInput{From: addr(0), To: addr(1), Value: 1})
		require.NoError(t, err)
		txIDs[i] = tx.ID
	}

	var wg sync.WaitGroup
	for _, id := range txIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Rate(ctx, id, 1, "")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	receiver, err := f.svc.Get(ctx, addr(1))
	require.NoError(t, err)
	assert.Equal(t, ratings, receiver.RatingCount, "every rating counted exactly once")
	assert.InDelta(t, 1.0, receiver.AverageRating, 1e-9)
	assert.Equal(t, 100, receiver.UnifiedScore, "clamped at the internal cap")
	assert.Equal(t, models.TierElite, receiver.Tier)
}

func TestApplyTrustScore_BlendAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "blended", Stake: 2})
	require.NoError(t, err)

	trust := 80.0
	agent, err := f.svc.ApplyTrustScore(ctx, addr(0), &trust, "v2")
	require.NoError(t, err)
	assert.Equal(t, 38, agent.UnifiedScore, "0.7*20 + 0.3*80")
	assert.Equal(t, "v2", agent.TrustVersion)
	assert.True(t, agent.Verified)

	agent, err = f.svc.ApplyTrustScore(ctx, addr(0), nil, "v3")
	require.NoError(t, err)
	assert.Equal(t, 20, agent.UnifiedScore, "cleared signal restores full internal weight")
	assert.False(t, agent.HasTrustScore())
	assert.False(t, agent.Verified)
}

func TestTierCrossing_EmitsScoreAndTierEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(i), Name: fmt.Sprintf("agent-%d", i)})
		require.NoError(t, err)
	}
	tx, err := f.svc.Settle(ctx, score.SettleInput{From: addr(0), To: addr(1), Value: 1})
	require.NoError(t, err)

	_, err = f.svc.Rate(ctx, tx.ID, 5, "")
	require.NoError(t, err)

	tierEvents := f.sink.ofType(score.EventTierChanged)
	require.Len(t, tierEvents, 1, "crossing a threshold emits a tier event")
	assert.Equal(t, addr(1), tierEvents[0].Address)
	assert.Equal(t, models.TierNewcomer, tierEvents[0].OldTier)
	assert.Equal(t, models.TierTrusted, tierEvents[0].NewTier)

	var receiverScoreEvents int
	for _, e := range f.sink.ofType(score.EventScoreChanged) {
		if e.Address == addr(1) {
			receiverScoreEvents++
		}
	}
	assert.Equal(t, 2, receiverScoreEvents, "settlement and rating each changed the score")
}

func TestSlash_CutsStakeAndAppendsMinimumRating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "offender", Stake: 5})
	require.NoError(t, err)

	agent, err := f.svc.Slash(ctx, addr(0))
	require.NoError(t, err)
	assert.Equal(t, 2.5, agent.TotalStaked)
	assert.Equal(t, 1, agent.RatingCount)
	assert.Equal(t, -5.0, agent.AverageRating)
	assert.Equal(t, 0, agent.UnifiedScore, "seed 25 - 50 clamps to zero")
	assert.Equal(t, models.TierNewcomer, agent.Tier)
}

func TestDeactivate_RemovesFromRanking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "retiring", Stake: 1})
	require.NoError(t, err)
	require.Equal(t, 1, f.index.Len())

	require.NoError(t, f.svc.Deactivate(ctx, addr(0)))
	assert.Equal(t, 0, f.index.Len())

	agent, err := f.svc.Get(ctx, addr(0))
	require.NoError(t, err)
	assert.False(t, agent.Active)
	require.NotNil(t, agent.DeactivatedAt)

	_, err = f.svc.Deposit(ctx, addr(0), 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation), "deactivated agents receive no signals")
}

func TestDeposit_RaisesSeedUpToCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, score.RegisterInput{Address: addr(0), Name: "staker", Stake: 1})
	require.NoError(t, err)

	agent, err := f.svc.Deposit(ctx, addr(0), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 15, agent.UnifiedScore)

	agent, err = f.svc.Deposit(ctx, addr(0), 100)
	require.NoError(t, err)
	assert.Equal(t, 25, agent.UnifiedScore, "stake alone cannot pass the seed cap")
}
