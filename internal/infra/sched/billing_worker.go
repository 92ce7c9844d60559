package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/ports/repository"
	"krishi-billing/internal/infra/logging"
	"krishi-billing/internal/infra/worker"
	"krishi-billing/internal/usecase"
)

// BillingWorker periodically scans for subscriptions whose billing date
// has arrived and submits a charge per merchant to the pool. Charges
// for distinct merchants run concurrently; the redis lock inside the
// use case keeps each merchant's cycle single-flight.
type BillingWorker struct {
	uc       usecase.BillingUseCase
	subs     repository.SubscriptionRepository
	pool     *worker.Pool
	interval time.Duration
	log      *zerolog.Logger
}

func NewBillingWorker(uc usecase.BillingUseCase, subs repository.SubscriptionRepository, pool *worker.Pool, interval time.Duration, logger *zerolog.Logger) *BillingWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BillingWorker{uc: uc, subs: subs, pool: pool, interval: interval, log: logger}
}

func (w *BillingWorker) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *BillingWorker) tick(ctx context.Context) {
	due, err := w.subs.ListDueForBilling(ctx, nil, time.Now(), 200)
	if err != nil {
		w.log.Error().Err(err).Msg("billing-worker: list due error")
		return
	}
	for _, sub := range due {
		merchantID := sub.MerchantID
		err := w.pool.Submit(func(taskCtx context.Context) error {
			err := w.uc.ChargeDue(logging.WithMerchantID(taskCtx, merchantID), merchantID)
			switch {
			case err == nil:
				w.log.Info().Str("merchant_id", merchantID).Msg("billing-worker: cycle charged")
			case errors.Is(err, domain.ErrChargeInFlight), errors.Is(err, domain.ErrStateConflict):
				// another worker got there first, or state moved under us
			default:
				w.log.Warn().Err(err).Str("merchant_id", merchantID).Msg("billing-worker: charge failed")
			}
			return nil
		})
		if err != nil {
			w.log.Warn().Err(err).Msg("billing-worker: pool saturated; merchant deferred to next tick")
		}
	}
}
