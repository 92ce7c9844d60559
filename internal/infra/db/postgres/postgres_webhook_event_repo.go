package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
	"krishi-billing/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

// webhookEventRepo is the duplicate-delivery ledger: one row per
// verified webhook, keyed by its signature hash.
type webhookEventRepo struct{ pool *pgxpool.Pool }

func NewWebhookEventRepo(pool *pgxpool.Pool) *webhookEventRepo {
	return &webhookEventRepo{pool: pool}
}

func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) error {
	const q = `INSERT INTO webhook_events (id, merchant_transaction_id, signature_hash, processed_at) VALUES ($1,$2,$3,$4);`
	_, err := execSQL(ctx, r.pool, tx, q, ev.ID, ev.MerchantTransactionID, ev.SignatureHash, ev.ProcessedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return domain.ErrDuplicateWebhook
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
