package handler

import (
	"time"

	"arp/internal/agent/models"
	"arp/internal/ranking"
)

// AgentListResponse is a filtered page of agents.
type AgentListResponse struct {
	Agents      []*models.Agent `json:"agents"`
	Total       int             `json:"total"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// AgentDetailResponse is one agent with its current rank and recent ledger
// activity.
type AgentDetailResponse struct {
	Agent              *models.Agent         `json:"agent"`
	Rank               int                   `json:"rank,omitempty"`
	RecentTransactions []*models.Transaction `json:"recent_transactions"`
}

// LeaderboardEntry is one rank-annotated row.
type LeaderboardEntry struct {
	Rank         int         `json:"rank"`
	Address      string      `json:"address"`
	Name         string      `json:"name"`
	UnifiedScore int         `json:"unified_score"`
	Tier         models.Tier `json:"tier"`
	TotalStaked  float64     `json:"total_staked"`
	TxCount      int         `json:"transaction_count"`
	AvgRating    float64     `json:"average_rating"`
	Verified     bool        `json:"verified"`
}

// LeaderboardResponse is a rank-annotated page of the filtered leaderboard.
type LeaderboardResponse struct {
	Entries     []LeaderboardEntry `json:"entries"`
	Total       int                `json:"total"`
	Timeframe   string             `json:"timeframe"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// TierDistributionResponse summarizes the leaderboard per tier.
type TierDistributionResponse struct {
	Tiers       []ranking.TierStat `json:"tiers"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func toLeaderboardEntries(ranked []ranking.RankedEntry) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(ranked))
	for _, e := range ranked {
		entries = append(entries, LeaderboardEntry{
			Rank:         e.Rank,
			Address:      e.Address,
			Name:         e.Name,
			UnifiedScore: e.UnifiedScore,
			Tier:         e.Tier,
			TotalStaked:  e.TotalStaked,
			TxCount:      e.TxCount,
			AvgRating:    e.AvgRating,
			Verified:     e.Verified,
		})
	}
	return entries
}
