package model

import "time"

// WebhookEvent is one verified inbound gateway callback. The signature
// hash doubles as a duplicate-delivery key: the gateway may deliver the
// same event more than once and replays must be no-ops.
type WebhookEvent struct {
	ID                    string // ULID, sortable by receipt time
	MerchantTransactionID string
	SignatureHash         string // hex digest portion of the X-VERIFY header
	ProcessedAt           time.Time
}
