package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
	"krishi-billing/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const transactionCols = `merchant_transaction_id, merchant_id, subscription_id, kind, amount_paise, status, gateway_mandate_id, gateway_code, created_at, updated_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, rec *model.TransactionRecord) error {
	const q = `
INSERT INTO billing_transactions (
  merchant_transaction_id, merchant_id, subscription_id, kind, amount_paise, status, gateway_mandate_id, gateway_code, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
) ON CONFLICT (merchant_transaction_id) DO UPDATE SET
  status=$6, gateway_mandate_id=$7, gateway_code=$8, updated_at=$10;`

	_, err := execSQL(ctx, r.pool, tx, q, rec.MerchantTransactionID, rec.MerchantID, rec.SubscriptionID, rec.Kind, rec.AmountPaise, rec.Status, rec.GatewayMandateID, rec.GatewayCode, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, mtid string) (*model.TransactionRecord, error) {
	q := `SELECT ` + transactionCols + ` FROM billing_transactions WHERE merchant_transaction_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, mtid)
	if err != nil {
		return nil, err
	}

	rec := &model.TransactionRecord{}
	if err := row.Scan(&rec.MerchantTransactionID, &rec.MerchantID, &rec.SubscriptionID, &rec.Kind, &rec.AmountPaise, &rec.Status, &rec.GatewayMandateID, &rec.GatewayCode, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return rec, nil
}

// UpdateStatusIfPending atomically settles a pending attempt. Returns
// false when the row was already terminal: webhook and poll race for
// the same transition and only the first may win.
func (r *transactionRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, mtid string, status model.TransactionStatus, mandateID, gatewayCode string) (bool, error) {
	const q = `
UPDATE billing_transactions
   SET status = $2,
       gateway_mandate_id = COALESCE(NULLIF($3,''), gateway_mandate_id),
       gateway_code = $4,
       updated_at = NOW()
 WHERE merchant_transaction_id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, mtid, string(status), mandateID, gatewayCode)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + transactionCols + ` FROM billing_transactions WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.TransactionRecord
	for rows.Next() {
		rec := new(model.TransactionRecord)
		if err := rows.Scan(&rec.MerchantTransactionID, &rec.MerchantID, &rec.SubscriptionID, &rec.Kind, &rec.AmountPaise, &rec.Status, &rec.GatewayMandateID, &rec.GatewayCode, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rec)
	}
	return out, nil
}
