package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"krishi-billing/internal/domain/ports/repository"
	"krishi-billing/internal/infra/logging"
	"krishi-billing/internal/usecase"
)

// StatusReconciler periodically polls the gateway for stale pending
// transactions and settles them. This covers lost webhooks, transport
// failures on side-effecting POSTs (the mtid was persisted first, so
// the status endpoint can resolve the unknown outcome), and process
// crashes mid-settle.
type StatusReconciler struct {
	uc         usecase.BillingUseCase
	txns       repository.TransactionRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending attempt must be to poll
	log        *zerolog.Logger
}

func NewStatusReconciler(uc usecase.BillingUseCase, txns repository.TransactionRepository, interval, staleAfter time.Duration, logger *zerolog.Logger) *StatusReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &StatusReconciler{uc: uc, txns: txns, interval: interval, staleAfter: staleAfter, log: logger}
}

func (w *StatusReconciler) Start(ctx context.Context) {
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

func (w *StatusReconciler) tick(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.txns.ListPendingOlderThan(ctx, nil, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("status-reconciler: list pending error")
		return
	}
	for _, rec := range pending {
		if err := w.uc.ReconcilePending(logging.WithTxnID(ctx, rec.MerchantTransactionID), rec); err != nil {
			w.log.Warn().Err(err).Str("merchant_txn_id", rec.MerchantTransactionID).Msg("status-reconciler: poll failed")
			continue
		}
		w.log.Info().Str("merchant_txn_id", rec.MerchantTransactionID).Msg("status-reconciler: reconciled")
	}
}
