package score

import (
	"context"
	"time"

	"arp/internal/agent/models"
)

// EventType labels a ranking-affecting change.
type EventType string

const (
	EventAgentRegistered EventType = "agent:registered"
	EventScoreChanged    EventType = "agent:scoreChanged"
	EventTierChanged     EventType = "agent:tierChanged"
)

// Event carries the post-update public fields of an agent plus the delta that
// produced it. Events for one agent are emitted in per-agent order because
// publication happens inside the serialized per-agent recomputation path.
type Event struct {
	Type      EventType   `json:"type"`
	Address   string      `json:"address"`
	Name      string      `json:"name"`
	OldScore  int         `json:"old_score"`
	NewScore  int         `json:"new_score"`
	OldTier   models.Tier `json:"old_tier"`
	NewTier   models.Tier `json:"new_tier"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink receives ranking events after the durable commit. Implementations must
// not block the aggregator: delivery is best effort and failures stay inside
// the sink.
type Sink interface {
	Publish(ctx context.Context, event Event)
}
