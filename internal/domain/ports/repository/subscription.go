package repository

import (
	"context"
	"time"

	"krishi-billing/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.MerchantSubscription) error
	FindByMerchantID(ctx context.Context, tx Tx, merchantID string) (*model.MerchantSubscription, error)

	// ListDueForBilling returns active subscriptions whose billing date
	// has arrived, for the billing worker.
	ListDueForBilling(ctx context.Context, tx Tx, asOf time.Time, limit int) ([]*model.MerchantSubscription, error)
}
