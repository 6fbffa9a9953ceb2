// Package handler exposes the agent, transaction, and leaderboard endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"arp/internal/agent/models"
	"arp/internal/agent/store"
	"arp/internal/ranking"
	"arp/internal/score"
	dErrors "arp/pkg/domain-errors"
	"arp/pkg/platform/httputil"
	"arp/pkg/requestcontext"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 100
	recentTxCount     = 10
	timeframeAll      = "all"
	timeframeWeek     = "week"
	timeframeMonth    = "month"
	weekWindow        = 7 * 24 * time.Hour
	monthWindow       = 30 * 24 * time.Hour
	defaultBoardLimit = 50
)

// Handler wires the reputation endpoints to the score aggregator and the
// ranking index.
type Handler struct {
	scores *score.Service
	index  *ranking.Index
	logger *slog.Logger
}

// New constructs the agent handler.
func New(scores *score.Service, index *ranking.Index, logger *slog.Logger) *Handler {
	return &Handler{scores: scores, index: index, logger: logger}
}

// RegisterReads mounts the query endpoints; the router wraps them in the
// read-class admission budget.
func (h *Handler) RegisterReads(r chi.Router) {
	r.Get("/api/agents", h.HandleList)
	r.Get("/api/agents/{address}", h.HandleDetail)
	r.Get("/api/agents/{address}/stats", h.HandleStats)
	r.Get("/api/leaderboard", h.HandleLeaderboard)
	r.Get("/api/leaderboard/tiers", h.HandleTiers)
}

// RegisterWrites mounts the mutation endpoints under the write-class budget.
func (h *Handler) RegisterWrites(r chi.Router) {
	r.Post("/api/agents", h.HandleRegister)
	r.Delete("/api/agents/{address}", h.HandleDeactivate)
	r.Post("/api/agents/{address}/trust-score", h.HandleTrustScore)
	r.Post("/api/agents/{address}/stake", h.HandleStake)
	r.Post("/api/agents/{address}/slash", h.HandleSlash)
	r.Post("/api/transactions", h.HandleTransaction)
	r.Post("/api/transactions/{id}/rating", h.HandleRating)
}

// HandleRegister handles POST /api/agents.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterAgentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	agent, err := h.scores.Register(ctx, score.RegisterInput{
		Address:     req.Address,
		Name:        req.Name,
		Description: req.Description,
		Stake:       req.StakeAmount,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, agent)
}

// HandleList handles GET /api/agents.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	tier, err := parseTierFilter(q.Get("tier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sortField, err := store.ParseSortField(q.Get("sort_by"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	order, err := store.ParseOrder(q.Get("order"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := parseBounded(q.Get("limit"), defaultPageSize, maxPageSize)
	offset := parseBounded(q.Get("offset"), 0, 1<<30)

	agents, total, err := h.scores.List(ctx, store.ListFilter{
		Tier:   tier,
		Sort:   sortField,
		Order:  order,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list agents", "error", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AgentListResponse{
		Agents:      agents,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		GeneratedAt: requestcontext.Now(ctx),
	})
}

// HandleDetail handles GET /api/agents/{address}. The agent record and its
// recent ledger activity load in parallel.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := chi.URLParam(r, "address")

	var (
		agent *models.Agent
		txs   []*models.Transaction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agent, err = h.scores.Get(gctx, address)
		return err
	})
	g.Go(func() error {
		var err error
		txs, err = h.scores.Transactions(gctx, address, recentTxCount)
		return err
	})
	if err := g.Wait(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp := AgentDetailResponse{Agent: agent, RecentTransactions: txs}
	if ranked, ok := h.index.Get(agent.Address); ok {
		resp.Rank = ranked.Rank
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/agents/{address}/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scores.Stats(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleLeaderboard handles GET /api/leaderboard.
func (h *Handler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	now := requestcontext.Now(ctx)

	tier, err := parseTierFilter(q.Get("tier"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	timeframe := q.Get("timeframe")
	if timeframe == "" {
		timeframe = timeframeAll
	}
	var since time.Time
	switch timeframe {
	case timeframeAll:
	case timeframeWeek:
		since = now.Add(-weekWindow)
	case timeframeMonth:
		since = now.Add(-monthWindow)
	default:
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unrecognized timeframe %q", timeframe))
		return
	}

	limit := parseBounded(q.Get("limit"), defaultBoardLimit, maxPageSize)
	offset := parseBounded(q.Get("offset"), 0, 1<<30)

	ranked, total := h.index.TopN(ranking.Query{
		Limit:  limit,
		Offset: offset,
		Tier:   tier,
		Since:  since,
	})
	httputil.WriteJSON(w, http.StatusOK, LeaderboardResponse{
		Entries:     toLeaderboardEntries(ranked),
		Total:       total,
		Timeframe:   timeframe,
		GeneratedAt: now,
	})
}

// HandleTiers handles GET /api/leaderboard/tiers.
func (h *Handler) HandleTiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	httputil.WriteJSON(w, http.StatusOK, TierDistributionResponse{
		Tiers:       h.index.TierDistribution(ranking.Query{}),
		GeneratedAt: requestcontext.Now(ctx),
	})
}

// HandleTransaction handles POST /api/transactions.
func (h *Handler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TransactionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	tx, err := h.scores.Settle(ctx, score.SettleInput{
		From:  req.From,
		To:    req.To,
		Value: req.Value,
		Hash:  req.Hash,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

// HandleRating handles POST /api/transactions/{id}/rating.
func (h *Handler) HandleRating(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RatingRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rating, err := h.scores.Rate(ctx, chi.URLParam(r, "id"), *req.Score, req.Feedback)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rating)
}

// HandleTrustScore handles POST /api/agents/{address}/trust-score.
func (h *Handler) HandleTrustScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TrustScoreRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	agent, err := h.scores.ApplyTrustScore(ctx, chi.URLParam(r, "address"), req.Score, req.Version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// HandleStake handles POST /api/agents/{address}/stake.
func (h *Handler) HandleStake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[StakeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	agent, err := h.scores.Deposit(ctx, chi.URLParam(r, "address"), req.Amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// HandleSlash handles POST /api/agents/{address}/slash.
func (h *Handler) HandleSlash(w http.ResponseWriter, r *http.Request) {
	agent, err := h.scores.Slash(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, agent)
}

// HandleDeactivate handles DELETE /api/agents/{address}.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.scores.Deactivate(r.Context(), chi.URLParam(r, "address")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseBounded parses a non-negative integer query value with a default and
// an upper bound.
func parseBounded(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
