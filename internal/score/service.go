package score

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arp/internal/agent/models"
	"arp/internal/agent/store"
	"arp/internal/ranking"
	"arp/internal/score/metrics"
	dErrors "arp/pkg/domain-errors"
	"arp/pkg/platform/sentinel"
	"arp/pkg/requestcontext"
)

// Service is the score aggregator. Every mutation of one agent's reputation
// state runs under that agent's mutex: signals for the same wallet are
// serialized, signals for different wallets proceed in parallel. A
// recomputation is all-or-nothing; if the store write fails, neither the
// ranking index nor any subscriber observes a change.
type Service struct {
	agents store.AgentStore
	txs    store.TransactionStore
	index  *ranking.Index
	sinks  []Sink
	logger *slog.Logger
	cfg    Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService constructs the aggregator. Sinks receive events after durable
// commits; a nil or empty sink list is valid.
func NewService(
	agents store.AgentStore,
	txs store.TransactionStore,
	index *ranking.Index,
	logger *slog.Logger,
	cfg Config,
	sinks ...Sink,
) *Service {
	return &Service{
		agents: agents,
		txs:    txs,
		index:  index,
		sinks:  sinks,
		logger: logger,
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock returns the per-address mutex, creating it on first use. Locks are
// never removed; the map grows with the number of distinct agents, which is
// bounded by the registration set.
func (s *Service) lock(address string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[address]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[address] = mu
	}
	return mu
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Address     string
	Name        string
	Description string
	Stake       float64
}

// Register creates an agent with its stake-derived seed score. Address
// uniqueness is enforced atomically by the store: of N concurrent
// registrations for one address exactly one succeeds, the rest conflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Agent, error) {
	agent, err := models.NewAgent(in.Address, in.Name, in.Description, in.Stake, requestcontext.Now(ctx))
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	s.cfg.Recompute(agent)

	if err := s.agents.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return nil, dErrors.New(dErrors.CodeConflict, "wallet address is already registered")
		}
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create agent")
	}

	s.index.Upsert(ranking.FromAgent(agent))
	s.emit(ctx, Event{
		Type:      EventAgentRegistered,
		Address:   agent.Address,
		Name:      agent.Name,
		NewScore:  agent.UnifiedScore,
		OldTier:   agent.Tier,
		NewTier:   agent.Tier,
		Timestamp: agent.CreatedAt,
	})

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.logger.InfoContext(ctx, "agent registered",
		slog.String("address", agent.Address),
		slog.Int("seed_score", agent.UnifiedScore),
		slog.String("tier", string(agent.Tier)),
	)
	return agent, nil
}

// SettleInput records one completed transaction between two agents. ID is
// optional; when supplied it acts as the idempotency key for re-delivered
// completion signals.
type SettleInput struct {
	ID    string
	From  string
	To    string
	Value float64
	Hash  string
}

// Settle appends a settlement to the ledger and recomputes both parties.
// A duplicate transaction id conflicts and leaves all scores untouched.
func (s *Service) Settle(ctx context.Context, in SettleInput) (*models.Transaction, error) {
	tx, err := models.NewTransaction(in.From, in.To, in.Value, in.Hash, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if in.ID != "" {
		tx.ID = in.ID
	}

	if _, err := s.getActive(ctx, tx.From); err != nil {
		return nil, err
	}
	if _, err := s.getActive(ctx, tx.To); err != nil {
		return nil, err
	}

	if err := s.txs.RecordTransaction(ctx, tx); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "transaction has already been recorded")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record transaction")
	}
	metrics.SignalsTotal.WithLabelValues("settlement").Inc()

	// Both parties gain transaction volume. Each recomputation is serialized
	// under its own address lock; locking in address order keeps concurrent
	// settlements between the same pair deadlock free.
	first, second := tx.From, tx.To
	if second < first {
		first, second = second, first
	}
	for _, addr := range []string{first, second} {
		if err := s.recompute(ctx, addr, func(a *models.Agent) error {
			a.TransactionCount++
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// Rate attaches a rating to a settled transaction and recomputes the
// receiver. Each transaction contributes at most one rating.
func (s *Service) Rate(ctx context.Context, transactionID string, value int, feedback string) (*models.Rating, error) {
	rating, err := models.NewRating(transactionID, value, feedback, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	tx, err := s.txs.GetTransaction(ctx, rating.TransactionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load transaction")
	}

	if err := s.txs.RecordRating(ctx, rating); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyRated):
			return nil, dErrors.New(dErrors.CodeConflict, "transaction has already been rated")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record rating")
		}
	}
	metrics.SignalsTotal.WithLabelValues("rating").Inc()

	err = s.recompute(ctx, tx.To, func(a *models.Agent) error {
		a.AverageRating = (a.AverageRating*float64(a.RatingCount) + float64(rating.Score)) / float64(a.RatingCount+1)
		a.RatingCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rating, nil
}

// ApplyTrustScore ingests the versioned external trust signal. A nil score
// clears the signal: the external weight drops to zero on the next blend.
func (s *Service) ApplyTrustScore(ctx context.Context, address string, trust *float64, version string) (*models.Agent, error) {
	metrics.SignalsTotal.WithLabelValues("trust_score").Inc()
	return s.recomputed(ctx, address, func(a *models.Agent) error {
		if trust == nil {
			a.TrustScore = nil
		} else {
			v := *trust
			a.TrustScore = &v
		}
		a.TrustVersion = version
		a.Verified = trust != nil
		return nil
	})
}

// Deposit adds stake to an agent and recomputes.
func (s *Service) Deposit(ctx context.Context, address string, amount float64) (*models.Agent, error) {
	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deposit amount must be positive")
	}
	metrics.SignalsTotal.WithLabelValues("stake").Inc()
	return s.recomputed(ctx, address, func(a *models.Agent) error {
		a.TotalStaked += amount
		return nil
	})
}

// Slash is the administrative penalty: it removes the configured fraction of
// stake and appends the minimum rating, then recomputes.
func (s *Service) Slash(ctx context.Context, address string) (*models.Agent, error) {
	metrics.SignalsTotal.WithLabelValues("slash").Inc()
	agent, err := s.recomputed(ctx, address, func(a *models.Agent) error {
		a.TotalStaked *= 1 - s.cfg.SlashFraction
		a.AverageRating = (a.AverageRating*float64(a.RatingCount) + float64(s.cfg.SlashRating)) / float64(a.RatingCount+1)
		a.RatingCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WarnContext(ctx, "agent slashed",
		slog.String("address", agent.Address),
		slog.Int("unified_score", agent.UnifiedScore),
	)
	return agent, nil
}

// Deactivate retires an agent. The record survives; the agent leaves the
// ranking and receives no further signals.
func (s *Service) Deactivate(ctx context.Context, address string) error {
	address = models.NormalizeAddress(address)
	mu := s.lock(address)
	mu.Lock()
	defer mu.Unlock()

	agent, err := s.get(ctx, address)
	if err != nil {
		return err
	}
	if err := agent.Deactivate(requestcontext.Now(ctx)); err != nil {
		return err
	}
	if err := s.agents.UpdateAgent(ctx, agent); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update agent")
	}
	s.index.Remove(address)
	s.logger.InfoContext(ctx, "agent deactivated", slog.String("address", address))
	return nil
}

// Get returns one agent by wallet address.
func (s *Service) Get(ctx context.Context, address string) (*models.Agent, error) {
	return s.get(ctx, models.NormalizeAddress(address))
}

// List returns a filtered, sorted page of agents from the durable store.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.Agent, int, error) {
	agents, total, err := s.agents.ListAgents(ctx, filter)
	if err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list agents")
	}
	return agents, total, nil
}

// Transactions returns an agent's most recent settlements, newest first.
func (s *Service) Transactions(ctx context.Context, address string, limit int) ([]*models.Transaction, error) {
	txs, err := s.txs.ListByAgent(ctx, models.NormalizeAddress(address), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transactions")
	}
	return txs, nil
}

// Stats returns the fixed rating aggregates for one agent.
func (s *Service) Stats(ctx context.Context, address string) (*models.AgentStats, error) {
	address = models.NormalizeAddress(address)
	if _, err := s.get(ctx, address); err != nil {
		return nil, err
	}
	stats, err := s.txs.Stats(ctx, address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute agent stats")
	}
	return stats, nil
}

func (s *Service) get(ctx context.Context, address string) (*models.Agent, error) {
	agent, err := s.agents.GetAgent(ctx, address)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "agent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load agent")
	}
	return agent, nil
}

func (s *Service) getActive(ctx context.Context, address string) (*models.Agent, error) {
	agent, err := s.get(ctx, address)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "agent %s is deactivated", address)
	}
	return agent, nil
}

// recompute applies mutate to one agent under its address lock, rederives the
// scores, persists, and only then updates the index and publishes the delta.
func (s *Service) recompute(ctx context.Context, address string, mutate func(*models.Agent) error) error {
	_, err := s.recomputed(ctx, address, mutate)
	return err
}

func (s *Service) recomputed(ctx context.Context, address string, mutate func(*models.Agent) error) (*models.Agent, error) {
	address = models.NormalizeAddress(address)
	mu := s.lock(address)
	mu.Lock()
	defer mu.Unlock()

	started := time.Now()
	defer func() { metrics.RecomputeDuration.Observe(time.Since(started).Seconds()) }()

	agent, err := s.getActive(ctx, address)
	if err != nil {
		return nil, err
	}

	oldScore, oldTier := agent.UnifiedScore, agent.Tier
	if err := mutate(agent); err != nil {
		return nil, err
	}
	s.cfg.Recompute(agent)

	if err := s.agents.UpdateAgent(ctx, agent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist recomputed agent")
	}
	s.index.Upsert(ranking.FromAgent(agent))

	now := requestcontext.Now(ctx)
	if agent.UnifiedScore != oldScore {
		s.emit(ctx, Event{
			Type:      EventScoreChanged,
			Address:   agent.Address,
			Name:      agent.Name,
			OldScore:  oldScore,
			NewScore:  agent.UnifiedScore,
			OldTier:   oldTier,
			NewTier:   agent.Tier,
			Timestamp: now,
		})
	}
	if agent.Tier != oldTier {
		direction := "up"
		if agent.Tier.Before(oldTier) {
			direction = "down"
		}
		metrics.TierChangesTotal.WithLabelValues(direction).Inc()
		s.emit(ctx, Event{
			Type:      EventTierChanged,
			Address:   agent.Address,
			Name:      agent.Name,
			OldScore:  oldScore,
			NewScore:  agent.UnifiedScore,
			OldTier:   oldTier,
			NewTier:   agent.Tier,
			Timestamp: now,
		})
	}
	return agent, nil
}

func (s *Service) emit(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		sink.Publish(ctx, event)
	}
}
