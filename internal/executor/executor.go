// Package executor turns liquidation candidates into signed transactions. It
// consumes whole evaluation sweeps, executes candidates in profit order with a
// serialized nonce, and tracks each submission through a small state machine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/astraly-labs/vesu-liquidator/internal/chain"
	"github.com/astraly-labs/vesu-liquidator/internal/domain"
	"github.com/astraly-labs/vesu-liquidator/internal/metrics"
)

// SubmissionState is the lifecycle stage of one liquidation submission.
type SubmissionState int

const (
	StatePending SubmissionState = iota
	StateSubmitted
	StateConfirmed
	StateFailed
	StateSuperseded
)

func (s SubmissionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Submission is the record of one liquidation attempt.
type Submission struct {
	ID         uuid.UUID
	PositionID domain.PositionID
	State      SubmissionState
	TxHash     common.Hash
	Attempt    int
	UpdatedAt  time.Time
}

// Submitter is the chain write path. *chain.Client satisfies it.
type Submitter interface {
	Liquidate(ctx context.Context, nonce uint64, p chain.LiquidateParams) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) error
}

// PositionSource provides the pre-submission registry re-check.
type PositionSource interface {
	Get(id domain.PositionID) (*domain.Position, error)
}

// Notifier pushes human-readable outcome messages to an external channel.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Config bounds retry behaviour.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	LockTTL      time.Duration
	ReceiptGrace time.Duration
}

// Executor drains evaluation sweeps and submits liquidations. It never writes
// to the registry; position state changes only through observed chain events.
type Executor struct {
	cfg       Config
	sweeps    <-chan domain.Sweep
	chain     Submitter
	positions PositionSource
	nonces    *NonceManager
	episodes  *episodeBook

	lock     domain.LockManager // optional
	bus      domain.SignalBus   // optional
	notifier Notifier           // optional

	mu      sync.Mutex
	records map[domain.PositionID]*Submission

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds an executor. lock, bus and notifier may be nil.
func New(cfg Config, sweeps <-chan domain.Sweep, submitter Submitter, positions PositionSource, nonces *NonceManager, lock domain.LockManager, bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.ReceiptGrace <= 0 {
		cfg.ReceiptGrace = time.Minute
	}
	return &Executor{
		cfg:       cfg,
		sweeps:    sweeps,
		chain:     submitter,
		positions: positions,
		nonces:    nonces,
		episodes:  newEpisodeBook(),
		lock:      lock,
		bus:       bus,
		notifier:  notifier,
		records:   make(map[domain.PositionID]*Submission),
		metrics:   metrics.Default(),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Run consumes sweeps until ctx is cancelled. An in-flight submission is
// allowed to finish its receipt wait before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sweep, ok := <-e.sweeps:
			if !ok {
				return nil
			}
			e.processSweep(ctx, sweep)
		}
	}
}

func (e *Executor) processSweep(ctx context.Context, sweep domain.Sweep) {
	for _, id := range e.episodes.reconcile(sweep) {
		e.logger.Info("position recovered, episode closed", slog.String("position", string(id)))
	}

	for _, cand := range sweep.Candidates {
		if ctx.Err() != nil {
			return
		}
		e.execute(ctx, sweep, cand)
	}
}

func (e *Executor) execute(ctx context.Context, sweep domain.Sweep, cand domain.Candidate) {
	now := time.Unix(sweep.At, 0)
	ep := e.episodes.open(cand.PositionID, now)
	if ep.Exhausted || ep.Terminal {
		return
	}

	// Re-check immediately before acting; a newer event may have closed or
	// shrunk the position since the sweep was taken.
	pos, err := e.positions.Get(cand.PositionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.supersede(ctx, cand, "position no longer tracked")
			return
		}
		e.logger.Error("registry lookup failed", slog.String("position", string(cand.PositionID)), slog.Any("error", err))
		return
	}
	if pos.Closed() || pos.DebtAmount.Sign() == 0 {
		e.supersede(ctx, cand, "position closed before submission")
		return
	}
	if cand.EvaluatedCollateral != nil && cand.EvaluatedDebt != nil &&
		(pos.CollateralAmount.Cmp(cand.EvaluatedCollateral) != 0 ||
			pos.DebtAmount.Cmp(cand.EvaluatedDebt) != 0) {
		e.supersede(ctx, cand, "balances changed since evaluation")
		return
	}

	if e.lock != nil {
		unlock, err := e.lock.Acquire(ctx, "liquidate:"+string(cand.PositionID), e.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				e.logger.Debug("position locked by another instance", slog.String("position", string(cand.PositionID)))
				return
			}
			e.logger.Warn("lock acquire failed, proceeding unlocked", slog.Any("error", err))
		} else {
			defer unlock()
		}
	}

	e.attempt(ctx, pos, cand, ep)
}

// attempt drives one submission through the state machine, retrying
// transient failures within the episode's remaining budget.
func (e *Executor) attempt(ctx context.Context, pos *domain.Position, cand domain.Candidate, ep *episode) {
	params := chain.LiquidateParams{
		PoolID:          pos.PoolID,
		CollateralAsset: pos.CollateralAsset,
		DebtAsset:       pos.DebtAsset,
		Owner:           pos.Owner,
		MaxRepay:        cand.RepayAmount,
		MinCollateral:   cand.MinCollateral,
	}

	backoff := e.cfg.RetryBackoff
	for ep.Attempts < e.cfg.MaxAttempts {
		ep.Attempts++

		sub := &Submission{
			ID:         uuid.New(),
			PositionID: cand.PositionID,
			State:      StatePending,
			Attempt:    ep.Attempts,
			UpdatedAt:  time.Now(),
		}
		e.record(sub)

		var txHash common.Hash
		err := e.nonces.Submit(ctx, func(nonce uint64) error {
			h, sendErr := e.chain.Liquidate(ctx, nonce, params)
			if sendErr != nil {
				return sendErr
			}
			txHash = h
			return nil
		})
		if err == nil {
			e.transition(sub, StateSubmitted, txHash)
			e.logger.Info("liquidation submitted",
				slog.String("position", string(cand.PositionID)),
				slog.String("tx", txHash.Hex()),
				slog.String("health_factor", cand.HealthFactor.String()),
				slog.Int("attempt", ep.Attempts))

			// In-flight submissions finish their receipt wait even during
			// shutdown; only the receipt grace period bounds it.
			waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ReceiptGrace)
			err = e.chain.WaitReceipt(waitCtx, txHash)
			cancel()
			if err == nil {
				e.transition(sub, StateConfirmed, txHash)
				ep.Terminal = true
				e.metrics.Liquidations.WithLabelValues("confirmed").Inc()
				e.announce(ctx, cand, sub, "confirmed")
				return
			}
		}

		if !retryable(err) {
			e.transition(sub, StateFailed, txHash)
			ep.Terminal = true
			e.metrics.Liquidations.WithLabelValues("failed").Inc()
			e.logger.Warn("liquidation failed terminally",
				slog.String("position", string(cand.PositionID)),
				slog.Int("attempt", ep.Attempts),
				slog.Any("error", err))
			e.announce(ctx, cand, sub, fmt.Sprintf("failed: %v", err))
			return
		}

		e.transition(sub, StateFailed, txHash)
		e.metrics.Liquidations.WithLabelValues("retried").Inc()
		e.logger.Warn("liquidation attempt failed, backing off",
			slog.String("position", string(cand.PositionID)),
			slog.Int("attempt", ep.Attempts),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}

	ep.Exhausted = true
	e.metrics.Liquidations.WithLabelValues("exhausted").Inc()
	e.logger.Error("episode attempt budget exhausted",
		slog.String("position", string(cand.PositionID)),
		slog.Int("attempts", ep.Attempts))
}

func (e *Executor) supersede(ctx context.Context, cand domain.Candidate, reason string) {
	sub := &Submission{
		ID:         uuid.New(),
		PositionID: cand.PositionID,
		State:      StateSuperseded,
		UpdatedAt:  time.Now(),
	}
	e.record(sub)
	e.metrics.Liquidations.WithLabelValues("superseded").Inc()
	e.logger.Info("candidate superseded",
		slog.String("position", string(cand.PositionID)),
		slog.String("reason", reason))
	e.announce(ctx, cand, sub, "superseded: "+reason)
}

func (e *Executor) record(sub *Submission) {
	e.mu.Lock()
	e.records[sub.PositionID] = sub
	e.mu.Unlock()
}

func (e *Executor) transition(sub *Submission, next SubmissionState, txHash common.Hash) {
	e.mu.Lock()
	sub.State = next
	sub.TxHash = txHash
	sub.UpdatedAt = time.Now()
	e.mu.Unlock()
}

// Status returns the latest submission record for a position.
func (e *Executor) Status(id domain.PositionID) (Submission, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.records[id]
	if !ok {
		return Submission{}, false
	}
	return *sub, true
}

// announce publishes the outcome on the signal bus and notifier. Failures are
// logged and dropped; delivery is best effort.
func (e *Executor) announce(ctx context.Context, cand domain.Candidate, sub *Submission, outcome string) {
	text := fmt.Sprintf("position=%s tx=%s repay=%s profit=$%s",
		sub.PositionID, sub.TxHash.Hex(), cand.RepayAmount.String(), cand.EstimatedProfit.StringFixed(2))

	if e.bus != nil {
		payload := fmt.Sprintf(`{"submission":"%s","position":"%s","outcome":"%s","tx":"%s"}`,
			sub.ID, sub.PositionID, outcome, sub.TxHash.Hex())
		if err := e.bus.Publish(ctx, "liquidator:outcomes", []byte(payload)); err != nil {
			e.logger.Warn("signal publish failed", slog.Any("error", err))
		}
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, "Liquidation "+outcome, text); err != nil {
			e.logger.Warn("notify failed", slog.Any("error", err))
		}
	}
}
