package model

import (
	"time"

	"krishi-billing/internal/domain"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"   // sent to gateway; awaiting webhook or poll
	TransactionStatusSuccess   TransactionStatus = "success"   // gateway settled the attempt
	TransactionStatusFailed    TransactionStatus = "failed"    // gateway declined or errored
	TransactionStatusCancelled TransactionStatus = "cancelled" // mandate cancelled before settlement
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

type TransactionKind string

const (
	TransactionKindMandateCreate  TransactionKind = "mandate_create"
	TransactionKindRecurringDebit TransactionKind = "recurring_debit"
)

// TransactionRecord tracks one attempt against the gateway. The
// MerchantTransactionID is the unique key; it is minted and persisted
// before the HTTP call so the attempt can be reconciled even if the
// response is lost. Transport-failure retries of the same attempt reuse
// this row; a new billing cycle always mints a new one.
type TransactionRecord struct {
	MerchantTransactionID string
	MerchantID            string
	SubscriptionID        string
	Kind                  TransactionKind
	AmountPaise           int64
	Status                TransactionStatus
	GatewayMandateID      string
	GatewayCode           string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewTransactionRecord validates and constructs a pending record.
func NewTransactionRecord(mtid, merchantID, subscriptionID string, kind TransactionKind, amountPaise int64) (*TransactionRecord, error) {
	if mtid == "" || merchantID == "" || subscriptionID == "" || amountPaise <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &TransactionRecord{
		MerchantTransactionID: mtid,
		MerchantID:            merchantID,
		SubscriptionID:        subscriptionID,
		Kind:                  kind,
		AmountPaise:           amountPaise,
		Status:                TransactionStatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}
