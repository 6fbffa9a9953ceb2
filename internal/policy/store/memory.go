package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"arp/internal/policy/models"
	"arp/pkg/platform/sentinel"
)

// InMemoryPolicies stores policy documents per wallet.
type InMemoryPolicies struct {
	mu       sync.RWMutex
	policies map[string]models.Policy
}

// NewInMemoryPolicies creates an empty policy store.
func NewInMemoryPolicies() *InMemoryPolicies {
	return &InMemoryPolicies{policies: make(map[string]models.Policy)}
}

func (s *InMemoryPolicies) Get(_ context.Context, walletID string) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[walletID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clonePolicy(&policy)
	return &out, nil
}

func (s *InMemoryPolicies) Replace(_ context.Context, policy *models.Policy) (*models.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := clonePolicy(policy)
	next.Version = s.policies[policy.WalletID].Version + 1
	s.policies[policy.WalletID] = next
	out := clonePolicy(&next)
	return &out, nil
}

func clonePolicy(p *models.Policy) models.Policy {
	out := *p
	if p.AllowList != nil {
		out.AllowList = append([]string(nil), p.AllowList...)
	}
	return out
}

type reservation struct {
	id    string
	value float64
	at    time.Time
}

// InMemorySpendLedger is the process-local sliding-window spend ledger.
// Entries older than the retention horizon are pruned on write.
type InMemorySpendLedger struct {
	mu        sync.Mutex
	spend     map[string][]reservation
	retention time.Duration
}

// NewInMemorySpendLedger creates a ledger that retains reservations for at
// least the given horizon. The horizon must cover the longest policy period
// in use.
func NewInMemorySpendLedger(retention time.Duration) *InMemorySpendLedger {
	return &InMemorySpendLedger{
		spend:     make(map[string][]reservation),
		retention: retention,
	}
}

func (l *InMemorySpendLedger) SpentSince(_ context.Context, walletID string, since time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total float64
	for _, r := range l.spend[walletID] {
		if !r.at.Before(since) {
			total += r.value
		}
	}
	return total, nil
}

func (l *InMemorySpendLedger) Reserve(_ context.Context, walletID string, value float64, at time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.prune(l.spend[walletID], at)
	r := reservation{id: uuid.NewString(), value: value, at: at}
	l.spend[walletID] = append(entries, r)
	return r.id, nil
}

func (l *InMemorySpendLedger) Release(_ context.Context, walletID, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.spend[walletID]
	for i, r := range entries {
		if r.id == reservationID {
			l.spend[walletID] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (l *InMemorySpendLedger) prune(entries []reservation, now time.Time) []reservation {
	cutoff := now.Add(-l.retention)
	kept := entries[:0]
	for _, r := range entries {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}
