package repository

import (
	"context"

	"krishi-billing/internal/domain/model"
)

type WebhookEventRepository interface {
	// Record persists a processed delivery; returns
	// domain.ErrDuplicateWebhook when the same signature hash was seen.
	Record(ctx context.Context, tx Tx, ev *model.WebhookEvent) error
}
