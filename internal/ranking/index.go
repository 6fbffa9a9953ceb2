// Package ranking maintains the in-memory, order-consistent leaderboard view
// over active agents. The index is a cache over the durable store: it is
// rebuilt from the store on startup and updated incrementally by the score
// aggregator afterwards.
package ranking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"arp/internal/agent/models"
)

// Entry is one agent's position-relevant state inside the index. Entries are
// immutable once inserted; an update replaces the whole entry so readers
// observe either the pre- or post-update state, never a partial one.
type Entry struct {
	Address      string
	Name         string
	UnifiedScore int
	ArpScore     float64
	TrustScore   *float64
	Tier         models.Tier
	TotalStaked  float64
	TxCount      int
	AvgRating    float64
	Verified     bool
	CreatedAt    time.Time
}

// RankedEntry annotates an Entry with its 1-based rank within the filtered
// view it was read from. Rank is positional, not a stored attribute: it can
// change without the agent's own score changing.
type RankedEntry struct {
	Entry
	Rank int
}

// TierStat summarizes one tier over the same filtered universe as TopN.
type TierStat struct {
	Tier         models.Tier `json:"tier"`
	Count        int         `json:"count"`
	AverageScore float64     `json:"average_score"`
}

// Query bounds a read over the index. Zero values mean "unfiltered".
type Query struct {
	Limit  int
	Offset int
	Tier   models.Tier
	Since  time.Time
}

// Store is the slice of the agent store the index needs for rebuilds.
type Store interface {
	ListAllActive(ctx context.Context) ([]*models.Agent, error)
}

// Index keeps active agents ordered by unified score descending, ties broken
// by earliest creation then address. Upserts reposition one entry; reads copy
// out a consistent slice under the read lock.
type Index struct {
	mu      sync.RWMutex
	ordered []*Entry          // maintained in rank order
	byAddr  map[string]*Entry // address -> current entry
}

// New creates an empty ranking index.
func New() *Index {
	return &Index{byAddr: make(map[string]*Entry)}
}

// FromAgent builds an index entry from an agent record.
func FromAgent(a *models.Agent) Entry {
	e := Entry{
		Address:      a.Address,
		Name:         a.Name,
		UnifiedScore: a.UnifiedScore,
		ArpScore:     a.ArpScore,
		Tier:         a.Tier,
		TotalStaked:  a.TotalStaked,
		TxCount:      a.TransactionCount,
		AvgRating:    a.AverageRating,
		Verified:     a.Verified,
		CreatedAt:    a.CreatedAt,
	}
	if a.TrustScore != nil {
		v := *a.TrustScore
		e.TrustScore = &v
	}
	return e
}

// Rebuild replaces the whole index from the durable store. Called on startup
// before the HTTP server accepts traffic.
func (idx *Index) Rebuild(ctx context.Context, store Store) error {
	agents, err := store.ListAllActive(ctx)
	if err != nil {
		return err
	}

	ordered := make([]*Entry, 0, len(agents))
	byAddr := make(map[string]*Entry, len(agents))
	for _, a := range agents {
		e := FromAgent(a)
		ordered = append(ordered, &e)
		byAddr[e.Address] = &e
	}
	sort.Slice(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })

	idx.mu.Lock()
	idx.ordered = ordered
	idx.byAddr = byAddr
	idx.mu.Unlock()
	return nil
}

// Upsert inserts or repositions one agent. The position search is
// logarithmic; the slice shift is linear in the distance moved.
func (idx *Index) Upsert(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.byAddr[e.Address]; ok {
		idx.removeLocked(old)
	}
	entry := e
	pos := sort.Search(len(idx.ordered), func(i int) bool {
		return !less(idx.ordered[i], &entry)
	})
	idx.ordered = append(idx.ordered, nil)
	copy(idx.ordered[pos+1:], idx.ordered[pos:])
	idx.ordered[pos] = &entry
	idx.byAddr[entry.Address] = &entry
}

// Remove drops an agent from the index (deactivation).
func (idx *Index) Remove(address string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.byAddr[address]; ok {
		idx.removeLocked(old)
		delete(idx.byAddr, address)
	}
}

func (idx *Index) removeLocked(e *Entry) {
	pos := sort.Search(len(idx.ordered), func(i int) bool {
		return !less(idx.ordered[i], e)
	})
	// The search lands on the first entry not ordered before e; scan forward
	// over equal-ordering entries to find the exact pointer.
	for pos < len(idx.ordered) {
		if idx.ordered[pos] == e {
			idx.ordered = append(idx.ordered[:pos], idx.ordered[pos+1:]...)
			return
		}
		pos++
	}
}

// TopN returns a rank-annotated page of the filtered view. Rank is the
// 1-based position within the filter, so offset pagination under concurrent
// writes may observe rank drift between pages; callers tolerate that.
func (idx *Index) TopN(q Query) ([]RankedEntry, int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]RankedEntry, 0, q.Limit)
	rank := 0
	total := 0
	for _, e := range idx.ordered {
		if !matches(e, q) {
			continue
		}
		total++
		rank++
		if rank <= q.Offset {
			continue
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			continue // keep counting total past the page
		}
		out = append(out, RankedEntry{Entry: *e, Rank: rank})
	}
	return out, total
}

// Get returns the current entry and its rank in the unfiltered view.
func (idx *Index) Get(address string) (RankedEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	e, ok := idx.byAddr[address]
	if !ok {
		return RankedEntry{}, false
	}
	rank := 1
	for _, other := range idx.ordered {
		if other == e {
			break
		}
		rank++
	}
	return RankedEntry{Entry: *e, Rank: rank}, true
}

// Len returns the number of indexed agents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ordered)
}

// TierDistribution computes count and average unified score per tier over
// the same filtered universe as TopN.
func (idx *Index) TierDistribution(q Query) []TierStat {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sums := make(map[models.Tier]int)
	counts := make(map[models.Tier]int)
	for _, e := range idx.ordered {
		if !matches(e, q) {
			continue
		}
		sums[e.Tier] += e.UnifiedScore
		counts[e.Tier]++
	}

	tiers := []models.Tier{models.TierNewcomer, models.TierEstablished, models.TierTrusted, models.TierElite}
	out := make([]TierStat, 0, len(tiers))
	for _, tier := range tiers {
		stat := TierStat{Tier: tier, Count: counts[tier]}
		if stat.Count > 0 {
			stat.AverageScore = float64(sums[tier]) / float64(stat.Count)
		}
		out = append(out, stat)
	}
	return out
}

func matches(e *Entry, q Query) bool {
	if q.Tier != "" && e.Tier != q.Tier {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

// less orders entries by unified score descending, then earliest creation,
// then address, for a total deterministic order.
func less(a, b *Entry) bool {
	if a.UnifiedScore != b.UnifiedScore {
		return a.UnifiedScore > b.UnifiedScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return strings.Compare(a.Address, b.Address) < 0
}
