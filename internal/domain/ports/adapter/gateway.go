package adapter

import "context"

// GatewayResponse is the uniform envelope every gateway operation
// returns: the gateway's own success flag plus business code/message,
// and the decoded data section when present.
type GatewayResponse struct {
	Success               bool
	Code                  string
	Message               string
	MerchantTransactionID string
	MandateID             string
	State                 string // gateway transaction state, e.g. COMPLETED / FAILED / PENDING
	RedirectURL           string // where to send the payer to approve a new mandate
}

// CreateMandateParams carries everything needed to issue a recurring
// debit authorization. MerchantTransactionID is minted by the caller
// and persisted before the HTTP call so a lost response can still be
// reconciled by polling.
type CreateMandateParams struct {
	MerchantTransactionID string
	MerchantUserID        string
	AmountPaise           int64
	MobileNumber          string
}

// DebitParams charges an existing mandate for one billing cycle.
// MerchantTransactionID must be freshly minted per cycle.
type DebitParams struct {
	MandateID             string
	MerchantTransactionID string
	MerchantUserID        string
	AmountPaise           int64
}

// MandateGateway is the hex port for the recurring-payment provider.
// Implementations perform network I/O only; concurrency control and
// state transitions belong to the orchestrator.
type MandateGateway interface {
	Name() string

	// CreateMandate issues the authorization request. HTTP acceptance
	// means "pending"; the real outcome arrives by webhook or polling.
	CreateMandate(ctx context.Context, p CreateMandateParams) (GatewayResponse, error)

	// CheckStatus polls one transaction. Idempotent and safe to repeat.
	CheckStatus(ctx context.Context, merchantTransactionID string) (GatewayResponse, error)

	// ExecuteRecurringDebit charges the mandate for a new cycle.
	ExecuteRecurringDebit(ctx context.Context, p DebitParams) (GatewayResponse, error)

	// CancelMandate stops future debits. Cancelling an already-cancelled
	// mandate is reported as success.
	CancelMandate(ctx context.Context, mandateID string) (GatewayResponse, error)

	// VerifyWebhookSignature authenticates an inbound callback before any
	// of its fields are trusted.
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
}
