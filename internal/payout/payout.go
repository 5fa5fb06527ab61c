// Package payout settles scheduled referral rewards.
package payout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"refery/api/internal/metrics"
	"refery/api/internal/store"
	"refery/api/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var ErrRunInProgress = errors.New("payout run already in progress")

var transitions = map[string][]string{
	store.PayoutScheduled:  {store.PayoutProcessing, store.PayoutCancelled},
	store.PayoutProcessing: {store.PayoutPaid, store.PayoutFailed},
	store.PayoutFailed:     {store.PayoutScheduled},
}

// CanTransition reports whether a payout may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ManualTransition reports whether a poster or admin may request the move.
// Processing, paid and failed are reserved for the scheduler.
func ManualTransition(from, to string) bool {
	switch {
	case from == store.PayoutFailed && to == store.PayoutScheduled:
		return true
	case from == store.PayoutScheduled && to == store.PayoutCancelled:
		return true
	}
	return false
}

type Store interface {
	ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]store.Payout, error)
	ListStalledPayouts(ctx context.Context, before time.Time, limit int) ([]store.Payout, error)
	TransitionPayout(ctx context.Context, payoutID, from, to string, update store.PayoutUpdate) (store.Payout, error)
}

// Disburser moves money for one payout and returns the external reference.
type Disburser interface {
	Disburse(ctx context.Context, p store.Payout) (string, error)
}

// LedgerDisburser records payouts without calling a payment provider.
type LedgerDisburser struct{}

func (LedgerDisburser) Disburse(_ context.Context, p store.Payout) (string, error) {
	if p.AmountCents <= 0 {
		return "", fmt.Errorf("payout %s has no amount", p.ID)
	}
	return "po_ref_" + p.ID, nil
}

type Summary struct {
	Considered int `json:"considered"`
	Paid       int `json:"paid"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Errored    int `json:"errored"`
	// Recovered counts payouts released from an expired processing lease.
	Recovered int `json:"recovered"`
}

// DefaultLease is how long a payout may stay in processing before a later
// run marks it failed.
const DefaultLease = 15 * time.Minute

const stalledReason = "processing interrupted before settlement; verify with the provider before retrying"

type Options struct {
	BatchSize int
	Lease     time.Duration
	Now       func() time.Time
	// OnSettled runs after a payout reaches paid or failed.
	OnSettled func(ctx context.Context, p store.Payout)
}

type Processor struct {
	store     Store
	disburser Disburser
	logger    *zap.Logger
	batchSize int
	lease     time.Duration
	now       func() time.Time
	onSettled func(context.Context, store.Payout)
	running   sync.Mutex
}

func NewProcessor(s Store, d Disburser, logger *zap.Logger, opts Options) *Processor {
	if d == nil {
		d = LedgerDisburser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		store:     s,
		disburser: d,
		logger:    logger.Named("payout"),
		batchSize: opts.BatchSize,
		lease:     opts.Lease,
		now:       opts.Now,
		onSettled: opts.OnSettled,
	}
}

// ProcessDue settles one batch of due payouts. Payouts claimed by another
// worker in the meantime are skipped.
func (p *Processor) ProcessDue(ctx context.Context) (Summary, error) {
	if !p.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	ctx, span := tracing.Tracer("payout").Start(ctx, "payout.process_due")
	defer span.End()

	recovered, err := p.recoverStalled(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recover stalled payouts")
		return Summary{}, err
	}

	due, err := p.store.ListDuePayouts(ctx, p.now().UTC(), p.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due payouts")
		return Summary{}, fmt.Errorf("list due payouts: %w", err)
	}

	summary := Summary{Considered: len(due), Recovered: recovered}
	for _, payout := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := p.settle(ctx, payout)
		if err != nil {
			span.RecordError(err)
			p.logger.Error("settle payout", zap.String("payout_id", payout.ID), zap.Error(err))
		}
		metrics.PayoutsProcessedTotal.WithLabelValues(result).Inc()
		switch result {
		case store.PayoutPaid:
			summary.Paid++
		case store.PayoutFailed:
			summary.Failed++
		case "skipped":
			summary.Skipped++
		default:
			summary.Errored++
		}
	}

	span.SetAttributes(
		attribute.Int("payouts.considered", summary.Considered),
		attribute.Int("payouts.paid", summary.Paid),
		attribute.Int("payouts.failed", summary.Failed),
		attribute.Int("payouts.recovered", summary.Recovered),
	)
	if summary.Considered > 0 || summary.Recovered > 0 {
		p.logger.Info("payout run finished",
			zap.Int("considered", summary.Considered),
			zap.Int("paid", summary.Paid),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("errored", summary.Errored),
			zap.Int("recovered", summary.Recovered),
		)
	}
	return summary, nil
}

func (p *Processor) settle(ctx context.Context, payout store.Payout) (string, error) {
	claimed, err := p.store.TransitionPayout(ctx, payout.ID, store.PayoutScheduled, store.PayoutProcessing, store.PayoutUpdate{})
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return "skipped", nil
	}
	if err != nil {
		return "error", fmt.Errorf("claim payout: %w", err)
	}

	// Once claimed, the outcome is written even if the run is cancelled.
	settleCtx := context.WithoutCancel(ctx)

	reference, disburseErr := p.disburser.Disburse(ctx, claimed)
	if disburseErr != nil {
		failed, err := p.store.TransitionPayout(settleCtx, claimed.ID, store.PayoutProcessing, store.PayoutFailed, store.PayoutUpdate{
			FailureReason: disburseErr.Error(),
		})
		if err != nil {
			return "error", fmt.Errorf("mark payout failed: %w", err)
		}
		p.logger.Warn("payout failed", zap.String("payout_id", claimed.ID), zap.Error(disburseErr))
		p.notify(settleCtx, failed)
		return store.PayoutFailed, nil
	}

	paidAt := p.now().UTC()
	paid, err := p.store.TransitionPayout(settleCtx, claimed.ID, store.PayoutProcessing, store.PayoutPaid, store.PayoutUpdate{
		PaidAt:    &paidAt,
		Reference: reference,
	})
	if err != nil {
		return "error", fmt.Errorf("mark payout paid: %w", err)
	}
	p.notify(settleCtx, paid)
	return store.PayoutPaid, nil
}

// recoverStalled fails payouts whose processing lease expired, e.g. after a
// crash between claim and settlement. They are not retried automatically
// because the disbursement may have gone through.
func (p *Processor) recoverStalled(ctx context.Context) (int, error) {
	stalled, err := p.store.ListStalledPayouts(ctx, p.now().UTC().Add(-p.lease), p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stalled payouts: %w", err)
	}
	recovered := 0
	for _, payout := range stalled {
		failed, err := p.store.TransitionPayout(ctx, payout.ID, store.PayoutProcessing, store.PayoutFailed, store.PayoutUpdate{
			FailureReason: stalledReason,
		})
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("release stalled payout %s: %w", payout.ID, err)
		}
		recovered++
		metrics.PayoutsProcessedTotal.WithLabelValues("recovered").Inc()
		p.logger.Warn("payout lease expired", zap.String("payout_id", payout.ID), zap.Time("claimed_at", payout.UpdatedAt))
		p.notify(ctx, failed)
	}
	return recovered, nil
}

func (p *Processor) notify(ctx context.Context, payout store.Payout) {
	if p.onSettled != nil {
		p.onSettled(ctx, payout)
	}
}
