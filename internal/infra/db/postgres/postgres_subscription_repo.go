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
	"krishi-billing/internal/infra/security"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

// subscriptionRepo persists merchant subscriptions. Mobile numbers are
// encrypted with AES-GCM before they touch the database.
type subscriptionRepo struct {
	pool *pgxpool.Pool
	enc  *security.EncryptionService
}

func NewSubscriptionRepo(pool *pgxpool.Pool, enc *security.EncryptionService) *subscriptionRepo {
	return &subscriptionRepo{pool: pool, enc: enc}
}

const subscriptionCols = `id, merchant_id, merchant_user_id, plan_type, amount_paise, status, mandate_id, mobile_number, trial_start_date, trial_end_date, next_billing_date, last_payment_date, total_payments_made, total_amount_paid, failed_payment_count, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.MerchantSubscription) error {
	mobile := sub.MobileNumber
	if mobile != "" && r.enc != nil {
		var err error
		if mobile, err = r.enc.Encrypt(mobile); err != nil {
			return err
		}
	}

	const q = `
INSERT INTO merchant_subscriptions (
  id, merchant_id, merchant_user_id, plan_type, amount_paise, status, mandate_id, mobile_number, trial_start_date, trial_end_date, next_billing_date, last_payment_date, total_payments_made, total_amount_paid, failed_payment_count, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
) ON CONFLICT (merchant_id) DO UPDATE SET
  merchant_user_id=$3, plan_type=$4, amount_paise=$5, status=$6, mandate_id=$7, mobile_number=$8, trial_start_date=$9, trial_end_date=$10, next_billing_date=$11, last_payment_date=$12, total_payments_made=$13, total_amount_paid=$14, failed_payment_count=$15, updated_at=$17;`

	_, err := execSQL(ctx, r.pool, tx, q, sub.ID, sub.MerchantID, sub.MerchantUserID, nullablePlan(sub.PlanType), sub.AmountPaise, sub.Status, sub.MandateID, mobile, sub.TrialStartDate, sub.TrialEndDate, sub.NextBillingDate, sub.LastPaymentDate, sub.TotalPaymentsMade, sub.TotalAmountPaid, sub.FailedPaymentCount, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByMerchantID(ctx context.Context, tx repository.Tx, merchantID string) (*model.MerchantSubscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM merchant_subscriptions WHERE merchant_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, merchantID)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *subscriptionRepo) ListDueForBilling(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.MerchantSubscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + subscriptionCols + ` FROM merchant_subscriptions WHERE status='active' AND next_billing_date IS NOT NULL AND next_billing_date <= $1 ORDER BY next_billing_date ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, asOf, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.MerchantSubscription
	for rows.Next() {
		sub, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *subscriptionRepo) scan(row rowScanner) (*model.MerchantSubscription, error) {
	sub := &model.MerchantSubscription{}
	var plan *string
	if err := row.Scan(&sub.ID, &sub.MerchantID, &sub.MerchantUserID, &plan, &sub.AmountPaise, &sub.Status, &sub.MandateID, &sub.MobileNumber, &sub.TrialStartDate, &sub.TrialEndDate, &sub.NextBillingDate, &sub.LastPaymentDate, &sub.TotalPaymentsMade, &sub.TotalAmountPaid, &sub.FailedPaymentCount, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if plan != nil {
		sub.PlanType = model.PlanType(*plan)
	}
	if sub.MobileNumber != "" && r.enc != nil {
		plain, err := r.enc.Decrypt(sub.MobileNumber)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		sub.MobileNumber = plain
	}
	return sub, nil
}

// nullablePlan maps the zero plan type to NULL (trial rows have no plan yet).
func nullablePlan(p model.PlanType) *string {
	if p == "" {
		return nil
	}
	s := string(p)
	return &s
}
