// Package policy gates wallet transaction execution behind per-wallet
// spending policies. Policy rejections are deterministic and terminal;
// submission to the chain is delegated to a Submitter and its failures are
// kept distinct from policy decisions.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	agentmodels "arp/internal/agent/models"
	"arp/internal/policy/models"
	"arp/internal/policy/store"
	"arp/internal/score"
	dErrors "arp/pkg/domain-errors"
	"arp/pkg/platform/sentinel"
	"arp/pkg/requestcontext"
)

var (
	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "policy",
		Name:      "executions_total",
		Help:      "Wallet executions by terminal status.",
	}, []string{"status"})
	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arp",
		Subsystem: "policy",
		Name:      "rejections_total",
		Help:      "Policy rejections by violated check.",
	}, []string{"reason"})
)

// Submitter sends an approved transaction to the execution backend and
// returns its hash. Implementations are expected to be slow and unreliable;
// the executor bounds them with a timeout.
type Submitter interface {
	Submit(ctx context.Context, walletID, destination string, value float64, data []byte) (string, error)
}

// Config bounds the executor's interaction with the Submitter and supplies
// the policy applied to wallets that never configured one.
type Config struct {
	SubmitTimeout time.Duration
	// Defaults for wallets without a stored policy. Zero limits mean
	// unlimited, matching an explicit permissive policy.
	DefaultPerTxLimit  float64
	DefaultPeriodLimit float64
	DefaultPeriod      time.Duration
}

// Executor runs the execution state machine:
// Requested -> PolicyChecked -> {Approved -> Submitted -> Confirmed | Failed}
// with policy rejections terminating at Rejected before any submission.
type Executor struct {
	policies  store.PolicyStore
	ledger    store.SpendLedger
	submitter Submitter
	scores    *score.Service
	logger    *slog.Logger
	cfg       Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewExecutor constructs the policy-gated executor.
func NewExecutor(
	policies store.PolicyStore,
	ledger store.SpendLedger,
	submitter Submitter,
	scores *score.Service,
	logger *slog.Logger,
	cfg Config,
) *Executor {
	return &Executor{
		policies:  policies,
		ledger:    ledger,
		submitter: submitter,
		scores:    scores,
		logger:    logger,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Executor) lock(walletID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[walletID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[walletID] = mu
	}
	return mu
}

// Execute runs one wallet transaction through the policy gate. Checks run in
// a fixed order and fail fast, so the same inputs against the same policy
// state always produce the same reason. A policy rejection never reaches the
// Submitter.
func (e *Executor) Execute(ctx context.Context, walletID, destination string, value float64, data []byte) (*models.Execution, error) {
	walletID = agentmodels.NormalizeAddress(walletID)
	now := requestcontext.Now(ctx)

	exec := &models.Execution{
		ID:          uuid.NewString(),
		WalletID:    walletID,
		Destination: agentmodels.NormalizeAddress(destination),
		Value:       value,
		Status:      models.StatusRequested,
		CreatedAt:   now,
	}

	agent, err := e.scores.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "wallet belongs to a deactivated agent")
	}

	if !agentmodels.ValidAddress(exec.Destination) {
		return e.reject(exec, models.ReasonMalformedDestination,
			dErrors.New(dErrors.CodeInvalidInput, "destination must be a 0x-prefixed 40-hex-digit address"))
	}
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "value must be a finite positive number")
	}

	policy, err := e.policyFor(ctx, walletID)
	if err != nil {
		return nil, err
	}
	exec.PolicyVer = policy.Version
	exec.Status = models.StatusPolicyChecked

	// The period check and the budget reservation are atomic per wallet, so
	// concurrent executions cannot jointly exceed the rolling limit.
	mu := e.lock(walletID)
	mu.Lock()

	if policy.PerTxLimit > 0 && value > policy.PerTxLimit {
		mu.Unlock()
		return e.reject(exec, models.ReasonPerTxLimit,
			dErrors.Newf(dErrors.CodePolicyRejected, "value exceeds the per-transaction limit of %g", policy.PerTxLimit))
	}
	if policy.PeriodLimit > 0 {
		spent, err := e.ledger.SpentSince(ctx, walletID, now.Add(-policy.Period))
		if err != nil {
			mu.Unlock()
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read the spend ledger")
		}
		if spent+value > policy.PeriodLimit {
			mu.Unlock()
			return e.reject(exec, models.ReasonPeriodLimit,
				dErrors.Newf(dErrors.CodePolicyRejected, "value exceeds the rolling period limit of %g", policy.PeriodLimit))
		}
	}
	if !policy.Allows(exec.Destination) {
		mu.Unlock()
		return e.reject(exec, models.ReasonDestinationNotListed,
			dErrors.New(dErrors.CodePolicyRejected, "destination is not on the allow-list"))
	}

	reservationID, err := e.ledger.Reserve(ctx, walletID, value, now)
	mu.Unlock()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reserve spend")
	}
	exec.Status = models.StatusApproved

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	exec.Status = models.StatusSubmitted

	hash, err := e.submitter.Submit(submitCtx, walletID, exec.Destination, value, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || submitCtx.Err() != nil {
			// The transaction may or may not have executed. The reservation
			// stays; reporting success or failure here would be a lie.
			executionsTotal.WithLabelValues(string(models.StatusSubmitted)).Inc()
			e.logger.WarnContext(ctx, "submission outcome unknown",
				slog.String("wallet_id", walletID),
				slog.String("execution_id", exec.ID),
			)
			return exec, dErrors.New(dErrors.CodeUnknown, "submission timed out; the outcome is unknown")
		}
		exec.Status = models.StatusFailed
		executionsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
		if rerr := e.ledger.Release(ctx, walletID, reservationID); rerr != nil {
			e.logger.ErrorContext(ctx, "failed to release reservation",
				slog.String("wallet_id", walletID),
				slog.String("error", rerr.Error()),
			)
		}
		return exec, dErrors.Wrap(err, dErrors.CodeExternalFailure, "transaction submission failed")
	}

	exec.Status = models.StatusConfirmed
	exec.Hash = hash
	executionsTotal.WithLabelValues(string(models.StatusConfirmed)).Inc()

	e.settle(ctx, exec)
	return exec, nil
}

// settle feeds the confirmed execution back into the score aggregator. The
// execution id doubles as the settlement idempotency key. A destination that
// is not a registered agent simply produces no reputation signal.
func (e *Executor) settle(ctx context.Context, exec *models.Execution) {
	_, err := e.scores.Settle(ctx, score.SettleInput{
		ID:    exec.ID,
		From:  exec.WalletID,
		To:    exec.Destination,
		Value: exec.Value,
		Hash:  exec.Hash,
	})
	if err == nil || dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeConflict) {
		return
	}
	e.logger.ErrorContext(ctx, "failed to record settlement for confirmed execution",
		slog.String("execution_id", exec.ID),
		slog.String("error", err.Error()),
	)
}

func (e *Executor) reject(exec *models.Execution, reason models.Reason, err error) (*models.Execution, error) {
	exec.Status = models.StatusRejected
	exec.Reason = reason
	executionsTotal.WithLabelValues(string(models.StatusRejected)).Inc()
	rejectionsTotal.WithLabelValues(string(reason)).Inc()
	return exec, err
}

// policyFor loads the wallet's policy, falling back to the configured
// defaults when none was ever set.
func (e *Executor) policyFor(ctx context.Context, walletID string) (*models.Policy, error) {
	policy, err := e.policies.Get(ctx, walletID)
	if err == nil {
		return policy, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.Policy{
			WalletID:    walletID,
			PerTxLimit:  e.cfg.DefaultPerTxLimit,
			PeriodLimit: e.cfg.DefaultPeriodLimit,
			Period:      e.cfg.DefaultPeriod,
		}, nil
	}
	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load the wallet policy")
}

// ReplacePolicy validates and atomically installs a new policy document for
// the wallet, bumping its version.
func (e *Executor) ReplacePolicy(ctx context.Context, walletID string, perTx, periodLimit float64, period time.Duration, allowList []string) (*models.Policy, error) {
	policy, err := models.NewPolicy(walletID, perTx, periodLimit, period, allowList, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if _, err := e.scores.Get(ctx, policy.WalletID); err != nil {
		return nil, err
	}

	stored, err := e.policies.Replace(ctx, policy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to replace the wallet policy")
	}
	e.logger.InfoContext(ctx, "wallet policy replaced",
		slog.String("wallet_id", stored.WalletID),
		slog.Int("version", stored.Version),
	)
	return stored, nil
}
