// Package handler exposes the policy-gated wallet execution endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"arp/internal/policy"
	"arp/internal/policy/models"
	dErrors "arp/pkg/domain-errors"
	"arp/pkg/platform/httputil"
	"arp/pkg/requestcontext"
)

// Handler wires the wallet endpoints to the executor.
type Handler struct {
	executor *policy.Executor
	logger   *slog.Logger
}

// New constructs the policy handler.
func New(executor *policy.Executor, logger *slog.Logger) *Handler {
	return &Handler{executor: executor, logger: logger}
}

// RegisterExecute mounts the execution endpoint; the router wraps it in the
// execute-class admission budget.
func (h *Handler) RegisterExecute(r chi.Router) {
	r.Post("/api/wallet/execute", h.HandleExecute)
}

// RegisterWrites mounts the policy management endpoint under the write-class
// budget.
func (h *Handler) RegisterWrites(r chi.Router) {
	r.Put("/api/wallet/{id}/policy", h.HandleReplacePolicy)
}

// ExecuteRequest is the HTTP request body for POST /api/wallet/execute.
type ExecuteRequest struct {
	AgentWalletID string  `json:"agent_wallet_id"`
	Destination   string  `json:"destination"`
	Value         float64 `json:"value"`
	Data          string  `json:"data"`
}

func (r *ExecuteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.AgentWalletID = strings.TrimSpace(r.AgentWalletID)
	if r.AgentWalletID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "agent_wallet_id is required")
	}
	r.Destination = strings.TrimSpace(r.Destination)
	if r.Destination == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "destination is required")
	}
	return nil
}

// ExecuteResponse reports the terminal state of one execution. On a
// non-confirmation the machine-readable rejection reason and the error code
// travel alongside the status.
type ExecuteResponse struct {
	Success bool          `json:"success"`
	Hash    string        `json:"hash,omitempty"`
	Status  models.Status `json:"status"`
	Reason  models.Reason `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PolicyRequest is the HTTP request body for PUT /api/wallet/{id}/policy.
type PolicyRequest struct {
	PerTxLimit    float64  `json:"per_tx_limit"`
	PeriodLimit   float64  `json:"period_limit"`
	PeriodSeconds int64    `json:"period_seconds"`
	AllowList     []string `json:"allow_list"`
}

func (r *PolicyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.PeriodSeconds < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "period_seconds must be non-negative")
	}
	return nil
}

// HandleExecute handles POST /api/wallet/execute.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[ExecuteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	exec, err := h.executor.Execute(ctx, req.AgentWalletID, req.Destination, req.Value, []byte(req.Data))
	if err != nil {
		// A terminal record carries the typed status and rejection reason;
		// serialize them rather than just the error envelope.
		if exec != nil {
			h.logger.InfoContext(ctx, "wallet execution did not confirm",
				"request_id", requestID,
				"wallet_id", exec.WalletID,
				"status", exec.Status,
				"reason", exec.Reason,
			)
			code := dErrors.CodeOf(err)
			httputil.WriteJSON(w, httputil.StatusOf(code), ExecuteResponse{
				Status: exec.Status,
				Reason: exec.Reason,
				Error:  string(code),
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "wallet execution confirmed",
		"request_id", requestID,
		"wallet_id", exec.WalletID,
		"hash", exec.Hash,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, ExecuteResponse{
		Success: true,
		Hash:    exec.Hash,
		Status:  exec.Status,
	})
}

// HandleReplacePolicy handles PUT /api/wallet/{id}/policy.
func (h *Handler) HandleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PolicyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	stored, err := h.executor.ReplacePolicy(ctx,
		chi.URLParam(r, "id"),
		req.PerTxLimit,
		req.PeriodLimit,
		time.Duration(req.PeriodSeconds)*time.Second,
		req.AllowList,
	)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stored)
}
