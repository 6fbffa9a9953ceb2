package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"arp/internal/agent/models"
	"arp/pkg/platform/sentinel"
)

// InMemory stores keep development and tests lightweight. They intentionally
// favor clarity over performance; the Postgres implementations carry the same
// contracts for deployment.
type InMemory struct {
	mu           sync.RWMutex
	agents       map[string]models.Agent
	transactions map[string]models.Transaction
	txOrder      []string // insertion order, newest appended last
}

// NewInMemory creates an empty in-memory store implementing both AgentStore
// and TransactionStore.
func NewInMemory() *InMemory {
	return &InMemory{
		agents:       make(map[string]models.Agent),
		transactions: make(map[string]models.Transaction),
	}
}

func (s *InMemory) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.Address]; exists {
		return sentinel.ErrConflict
	}
	s.agents[agent.Address] = cloneAgent(agent)
	return nil
}

func (s *InMemory) GetAgent(_ context.Context, address string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[address]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneAgent(&agent)
	return &out, nil
}

func (s *InMemory) UpdateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.Address]; !ok {
		return sentinel.ErrNotFound
	}
	s.agents[agent.Address] = cloneAgent(agent)
	return nil
}

func (s *InMemory) ListAgents(_ context.Context, filter ListFilter) ([]*models.Agent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Agent, 0, len(s.agents))
	for addr := range s.agents {
		agent := s.agents[addr]
		if !filter.IncludeInactive && !agent.Active {
			continue
		}
		if filter.Tier != "" && agent.Tier != filter.Tier {
			continue
		}
		if !filter.Since.IsZero() && agent.CreatedAt.Before(filter.Since) {
			continue
		}
		out := cloneAgent(&agent)
		matched = append(matched, &out)
	}

	sortAgents(matched, filter.Sort, filter.Order)

	total := len(matched)
	matched = page(matched, filter.Limit, filter.Offset)
	return matched, total, nil
}

func (s *InMemory) ListAllActive(_ context.Context) ([]*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Agent, 0, len(s.agents))
	for addr := range s.agents {
		agent := s.agents[addr]
		if !agent.Active {
			continue
		}
		c := cloneAgent(&agent)
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemory) RecordTransaction(_ context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[tx.ID]; exists {
		return sentinel.ErrConflict
	}
	s.transactions[tx.ID] = cloneTransaction(tx)
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

func (s *InMemory) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := cloneTransaction(&tx)
	return &out, nil
}

func (s *InMemory) RecordRating(_ context.Context, rating *models.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[rating.TransactionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if tx.Rating != nil {
		return sentinel.ErrAlreadyRated
	}
	r := *rating
	tx.Rating = &r
	s.transactions[tx.ID] = tx
	return nil
}

func (s *InMemory) ListByAgent(_ context.Context, address string, limit int) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Transaction, 0, limit)
	// Walk newest first.
	for i := len(s.txOrder) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		tx := s.transactions[s.txOrder[i]]
		if tx.From != address && tx.To != address {
			continue
		}
		c := cloneTransaction(&tx)
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemory) Stats(_ context.Context, address string) (*models.AgentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.AgentStats{}
	sum := 0
	rated := 0
	for _, id := range s.txOrder {
		tx := s.transactions[id]
		if tx.To != address {
			continue
		}
		stats.TotalTransactions++
		if tx.Rating == nil {
			continue
		}
		rated++
		sum += tx.Rating.Score
		switch {
		case tx.Rating.Score > 0:
			stats.PositiveRatings++
		case tx.Rating.Score < 0:
			stats.NegativeRatings++
		}
	}
	if rated > 0 {
		stats.AverageRating = float64(sum) / float64(rated)
	}
	return stats, nil
}

func sortAgents(agents []*models.Agent, field SortField, order Order) {
	if field == "" {
		field = SortByUnifiedScore
	}
	desc := order != OrderAsc
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i], agents[j]
		if c := compareField(a, b, field); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		// Ties always break by earliest creation then address, regardless of
		// the requested order, so pagination stays deterministic.
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return strings.Compare(a.Address, b.Address) < 0
	})
}

func compareField(a, b *models.Agent, field SortField) int {
	switch field {
	case SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortByTotalStaked:
		switch {
		case a.TotalStaked < b.TotalStaked:
			return -1
		case a.TotalStaked > b.TotalStaked:
			return 1
		}
	case SortByTransactionCount:
		return a.TransactionCount - b.TransactionCount
	default:
		return a.UnifiedScore - b.UnifiedScore
	}
	return 0
}

func page(agents []*models.Agent, limit, offset int) []*models.Agent {
	if offset >= len(agents) {
		return nil
	}
	agents = agents[offset:]
	if limit > 0 && limit < len(agents) {
		agents = agents[:limit]
	}
	return agents
}

func cloneAgent(a *models.Agent) models.Agent {
	out := *a
	if a.TrustScore != nil {
		v := *a.TrustScore
		out.TrustScore = &v
	}
	if a.DeactivatedAt != nil {
		t := *a.DeactivatedAt
		out.DeactivatedAt = &t
	}
	return out
}

func cloneTransaction(tx *models.Transaction) models.Transaction {
	out := *tx
	if tx.Rating != nil {
		r := *tx.Rating
		out.Rating = &r
	}
	return out
}
