package repository

import (
	"context"
	"time"

	"krishi-billing/internal/domain/model"
)

type TransactionRepository interface {
	Save(ctx context.Context, tx Tx, rec *model.TransactionRecord) error
	FindByID(ctx context.Context, tx Tx, merchantTransactionID string) (*model.TransactionRecord, error)

	// UpdateStatusIfPending applies a terminal status only when the row is
	// still pending; returns false when another path (webhook vs poll)
	// settled it first.
	UpdateStatusIfPending(ctx context.Context, tx Tx, merchantTransactionID string, status model.TransactionStatus, mandateID, gatewayCode string) (bool, error)

	// ListPendingOlderThan feeds the status reconciler.
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.TransactionRecord, error)
}
