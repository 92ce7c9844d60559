// File: internal/usecase/billing_uc.go
package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
	"krishi-billing/internal/domain/ports/adapter"
	"krishi-billing/internal/domain/ports/repository"
	"krishi-billing/internal/infra/logging"
	"krishi-billing/internal/infra/metrics"
	"krishi-billing/internal/infra/redis"
)

// Compile-time check
var _ BillingUseCase = (*billingUC)(nil)

// BillingUseCase drives the mandate lifecycle state machine. It owns
// every transition; the gateway adapter only moves bytes.
type BillingUseCase interface {
	// RegisterMerchant starts a merchant on a trial subscription.
	RegisterMerchant(ctx context.Context, merchantID, merchantUserID string) (*model.MerchantSubscription, error)

	// StartMandate mints a transaction id, persists the pending attempt
	// BEFORE any network call, then asks the gateway for a mandate.
	// Returns the pending record and the payer redirect URL.
	StartMandate(ctx context.Context, merchantID string, plan model.PlanType, mobileNumber string) (*model.TransactionRecord, string, error)

	// ApplyWebhook verifies and applies one inbound gateway callback.
	// Duplicate deliveries and already-settled transactions are no-ops.
	ApplyWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error

	// ApplyStatus settles a pending transaction. Shared by the webhook
	// path and the polling reconciler; whichever arrives first wins.
	ApplyStatus(ctx context.Context, merchantTransactionID string, status model.TransactionStatus, mandateID, gatewayCode string) error

	// ChargeDue executes the recurring debit for one due billing cycle,
	// single-flight per merchant.
	ChargeDue(ctx context.Context, merchantID string) error

	// ReconcilePending polls the gateway for one stale pending attempt.
	ReconcilePending(ctx context.Context, rec *model.TransactionRecord) error

	// Cancel terminates the mandate. Repeated cancellation succeeds.
	Cancel(ctx context.Context, merchantID string) error

	// Status returns the merchant's current subscription state.
	Status(ctx context.Context, merchantID string) (*model.MerchantSubscription, error)
}

type billingUC struct {
	subs       repository.SubscriptionRepository
	txns       repository.TransactionRepository
	events     repository.WebhookEventRepository
	gateway    adapter.MandateGateway
	tm         repository.TransactionManager
	locker     redis.Locker
	mintTxnID  func(merchantID string) string
	trialDays  int
	maxCharges int
	log        *zerolog.Logger
}

func NewBillingUseCase(
	subs repository.SubscriptionRepository,
	txns repository.TransactionRepository,
	events repository.WebhookEventRepository,
	gateway adapter.MandateGateway,
	tm repository.TransactionManager,
	locker redis.Locker,
	mintTxnID func(merchantID string) string,
	trialDays, maxCharges int,
	logger *zerolog.Logger,
) *billingUC {
	if trialDays <= 0 {
		trialDays = 14
	}
	if maxCharges <= 0 {
		maxCharges = 3
	}
	return &billingUC{
		subs:       subs,
		txns:       txns,
		events:     events,
		gateway:    gateway,
		tm:         tm,
		locker:     locker,
		mintTxnID:  mintTxnID,
		trialDays:  trialDays,
		maxCharges: maxCharges,
		log:        logger,
	}
}

func (u *billingUC) RegisterMerchant(ctx context.Context, merchantID, merchantUserID string) (*model.MerchantSubscription, error) {
	if existing, err := u.subs.FindByMerchantID(ctx, nil, merchantID); err == nil {
		return existing, domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	sub, err := model.NewTrialSubscription(uuid.NewString(), merchantID, merchantUserID, u.trialDays)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (u *billingUC) StartMandate(ctx context.Context, merchantID string, plan model.PlanType, mobileNumber string) (*model.TransactionRecord, string, error) {
	details, err := model.PlanFor(plan)
	if err != nil {
		return nil, "", err
	}
	sub, err := u.subs.FindByMerchantID(ctx, nil, merchantID)
	if err != nil {
		return nil, "", err
	}
	if !sub.CanRequestMandate() {
		return nil, "", domain.ErrStateConflict
	}

	now := time.Now()
	mtid := u.mintTxnID(merchantID)
	rec, err := model.NewTransactionRecord(mtid, merchantID, sub.ID, model.TransactionKindMandateCreate, details.AmountPaise)
	if err != nil {
		return nil, "", err
	}

	// Persist the attempt and the pending subscription state before the
	// HTTP call: a lost response must still be reconcilable by mtid.
	sub.PlanType = plan
	sub.AmountPaise = details.AmountPaise
	sub.MobileNumber = mobileNumber
	sub.Status = model.SubscriptionStatusPendingMandate
	sub.UpdatedAt = now
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.txns.Save(ctx, tx, rec); err != nil {
			return err
		}
		return u.subs.Save(ctx, tx, sub)
	})
	if err != nil {
		return nil, "", err
	}
	metrics.IncMandate("requested")

	resp, err := u.gateway.CreateMandate(ctx, adapter.CreateMandateParams{
		MerchantTransactionID: mtid,
		MerchantUserID:        sub.MerchantUserID,
		AmountPaise:           details.AmountPaise,
		MobileNumber:          mobileNumber,
	})
	if err != nil {
		if domain.IsTransport(err) {
			// keep the row pending; the reconciler polls the same mtid,
			// preserving gateway-side idempotency for this attempt
			u.log.Warn().Str("merchant_txn_id", mtid).Msg("create mandate unreachable; left pending for reconcile")
			return rec, "", err
		}
		// gateway said no: settle the attempt as failed
		_ = u.ApplyStatus(ctx, mtid, model.TransactionStatusFailed, "", gatewayCode(err))
		return nil, "", err
	}

	l := logging.With(ctx, u.log)
	l.Info().
		Str("merchant_txn_id", mtid).
		Str("code", resp.Code).
		Str("mobile", logging.Redact(mobileNumber)).
		Msg("mandate requested")
	return rec, resp.RedirectURL, nil
}

func (u *billingUC) ApplyWebhook(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if !u.gateway.VerifyWebhookSignature(rawBody, signatureHeader) {
		metrics.IncWebhook("rejected")
		// security-relevant rejection: log and discard, never applied
		u.log.Warn().Int("body_bytes", len(rawBody)).Msg("webhook signature mismatch; payload discarded")
		return domain.ErrSignatureMismatch
	}

	// only after verification is the body parsed into trusted types
	ev, err := decodeWebhook(rawBody)
	if err != nil {
		metrics.IncWebhook("bad_request")
		return err
	}

	sigHash, _, _ := strings.Cut(signatureHeader, "###")
	status, terminal := settlementStatus(ev.Code, ev.State)

	// dedupe and settlement commit together: a crash can lose both or
	// neither, so the gateway's redelivery always finds a clean slate
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.events.Record(ctx, tx, &model.WebhookEvent{
			ID:                    ulid.Make().String(),
			MerchantTransactionID: ev.MerchantTransactionID,
			SignatureHash:         sigHash,
			ProcessedAt:           time.Now(),
		}); err != nil {
			return err
		}
		if !terminal {
			// informational event (still pending); nothing to settle yet
			return nil
		}
		return u.settle(ctx, tx, ev.MerchantTransactionID, status, ev.MandateID, ev.Code)
	})
	if errors.Is(err, domain.ErrDuplicateWebhook) {
		metrics.IncWebhook("duplicate")
		return nil // replayed delivery; state already applied
	}
	if err != nil {
		return err
	}
	metrics.IncWebhook("applied")
	return nil
}

func (u *billingUC) ApplyStatus(ctx context.Context, mtid string, status model.TransactionStatus, mandateID, code string) error {
	if !status.Terminal() {
		return domain.ErrInvalidArgument
	}
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.settle(ctx, tx, mtid, status, mandateID, code)
	})
}

// settle records a terminal outcome for one transaction and applies
// the matching subscription transition. The record is settled even
// when the subscription has moved on without this attempt (a second
// mandate attempt approved first, a mandate cancelled before the
// outcome arrived); the stale transition is dropped, never retried.
func (u *billingUC) settle(ctx context.Context, tx repository.Tx, mtid string, status model.TransactionStatus, mandateID, code string) error {
	settled, err := u.txns.UpdateStatusIfPending(ctx, tx, mtid, status, mandateID, code)
	if err != nil {
		return err
	}
	if !settled {
		// the other path (webhook vs poll) won the race; no-op
		return nil
	}
	rec, err := u.txns.FindByID(ctx, tx, mtid)
	if err != nil {
		return err
	}
	sub, err := u.subs.FindByMerchantID(ctx, tx, rec.MerchantID)
	if err != nil {
		return err
	}

	now := time.Now()
	var transitionErr error
	switch {
	case rec.Kind == model.TransactionKindMandateCreate && status == model.TransactionStatusSuccess:
		if transitionErr = sub.ApplyMandateApproved(mandateID, now); transitionErr == nil {
			metrics.IncMandate("approved")
		}
	case rec.Kind == model.TransactionKindMandateCreate:
		if transitionErr = sub.ApplyMandateRejected(now); transitionErr == nil {
			metrics.IncMandate("rejected")
		}
	case rec.Kind == model.TransactionKindRecurringDebit && status == model.TransactionStatusSuccess:
		if transitionErr = sub.ApplyChargeSucceeded(rec.AmountPaise, now); transitionErr == nil {
			metrics.IncCharge("success")
			metrics.AddRevenue(rec.AmountPaise)
		}
	default:
		sub.ApplyChargeFailed(u.maxCharges, now)
		metrics.IncCharge("failed")
	}
	if errors.Is(transitionErr, domain.ErrStateConflict) {
		u.log.Warn().
			Str("merchant_txn_id", mtid).
			Str("kind", string(rec.Kind)).
			Str("sub_status", string(sub.Status)).
			Msg("superseded attempt settled; subscription unchanged")
		return nil
	}
	if transitionErr != nil {
		return transitionErr
	}
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return err
	}
	u.log.Info().
		Str("merchant_txn_id", mtid).
		Str("kind", string(rec.Kind)).
		Str("status", string(status)).
		Str("sub_status", string(sub.Status)).
		Msg("transaction settled")
	return nil
}

func (u *billingUC) ChargeDue(ctx context.Context, merchantID string) error {
	sub, err := u.subs.FindByMerchantID(ctx, nil, merchantID)
	if err != nil {
		return err
	}
	if !sub.Chargeable() {
		if sub.Status == model.SubscriptionStatusActive {
			return domain.ErrNoActiveMandate
		}
		return domain.ErrStateConflict
	}
	now := time.Now()
	if sub.NextBillingDate == nil || now.Before(*sub.NextBillingDate) {
		return domain.ErrStateConflict
	}

	// single-flight per merchant+cycle: a second worker (or an overlap
	// with the reconciler) must not issue a second debit
	lockKey := fmt.Sprintf("billing:charge:%s:%s", merchantID, sub.NextBillingDate.UTC().Format("2006-01-02"))
	token, err := u.locker.TryLock(ctx, lockKey, 5*time.Minute)
	if err != nil {
		return err
	}
	defer func() { _ = u.locker.Unlock(ctx, lockKey, token) }()

	// fresh mtid per cycle: reusing an old one would blur which cycle
	// a settlement belongs to
	mtid := u.mintTxnID(merchantID)
	rec, err := model.NewTransactionRecord(mtid, merchantID, sub.ID, model.TransactionKindRecurringDebit, sub.AmountPaise)
	if err != nil {
		return err
	}
	if err := u.txns.Save(ctx, nil, rec); err != nil {
		return err
	}

	resp, err := u.gateway.ExecuteRecurringDebit(ctx, adapter.DebitParams{
		MandateID:             sub.MandateID,
		MerchantTransactionID: mtid,
		MerchantUserID:        sub.MerchantUserID,
		AmountPaise:           sub.AmountPaise,
	})
	if err != nil {
		if domain.IsTransport(err) {
			// outcome unknown: never blindly retry a side-effecting POST;
			// the reconciler resolves this mtid via the status endpoint
			u.log.Warn().Str("merchant_txn_id", mtid).Msg("debit unreachable; left pending for reconcile")
			return err
		}
		return u.ApplyStatus(ctx, mtid, model.TransactionStatusFailed, "", gatewayCode(err))
	}

	if status, ok := settlementStatus(resp.Code, resp.State); ok {
		return u.ApplyStatus(ctx, mtid, status, resp.MandateID, resp.Code)
	}
	// accepted but pending: webhook or reconciler will settle it
	return nil
}

func (u *billingUC) ReconcilePending(ctx context.Context, rec *model.TransactionRecord) error {
	resp, err := u.gateway.CheckStatus(ctx, rec.MerchantTransactionID)
	if err != nil {
		return err
	}
	status, ok := settlementStatus(resp.Code, resp.State)
	if !ok {
		return nil // still pending at the gateway
	}
	return u.ApplyStatus(ctx, rec.MerchantTransactionID, status, resp.MandateID, resp.Code)
}

func (u *billingUC) Cancel(ctx context.Context, merchantID string) error {
	sub, err := u.subs.FindByMerchantID(ctx, nil, merchantID)
	if err != nil {
		return err
	}
	if sub.Status == model.SubscriptionStatusCancelled {
		return nil // repeated cancellation is success, not error
	}
	if sub.MandateID != "" {
		if _, err := u.gateway.CancelMandate(ctx, sub.MandateID); err != nil {
			return err
		}
	}
	sub.ApplyCancelled(time.Now())
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		return err
	}
	metrics.IncMandate("cancelled")
	return nil
}

func (u *billingUC) Status(ctx context.Context, merchantID string) (*model.MerchantSubscription, error) {
	sub, err := u.subs.FindByMerchantID(ctx, nil, merchantID)
	if err != nil {
		return nil, err
	}
	if sub.ExpireTrialIfLapsed(time.Now()) {
		if err := u.subs.Save(ctx, nil, sub); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// webhookEvent is the parsed, already-verified callback body.
type webhookEvent struct {
	MerchantTransactionID string
	MandateID             string
	Code                  string
	State                 string
}

// decodeWebhook unwraps the {"response": base64(JSON)} envelope the
// gateway posts; a bare JSON body is accepted for older callbacks.
func decodeWebhook(rawBody []byte) (*webhookEvent, error) {
	var envelope struct {
		Response string `json:"response"`
	}
	inner := rawBody
	if err := json.Unmarshal(rawBody, &envelope); err == nil && envelope.Response != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Response)
		if err != nil {
			return nil, fmt.Errorf("decode webhook envelope: %w", err)
		}
		inner = decoded
	}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Data    struct {
			MerchantTransactionID string `json:"merchantTransactionId"`
			MandateID             string `json:"mandateId"`
			State                 string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(inner, &body); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	if body.Data.MerchantTransactionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &webhookEvent{
		MerchantTransactionID: body.Data.MerchantTransactionID,
		MandateID:             body.Data.MandateID,
		Code:                  body.Code,
		State:                 body.Data.State,
	}, nil
}

// settlementStatus maps gateway code/state pairs onto a terminal
// transaction status. ok=false means the attempt is still pending.
func settlementStatus(code, state string) (model.TransactionStatus, bool) {
	switch strings.ToUpper(state) {
	case "COMPLETED":
		return model.TransactionStatusSuccess, true
	case "FAILED", "DECLINED":
		return model.TransactionStatusFailed, true
	case "CANCELLED", "REVOKED":
		return model.TransactionStatusCancelled, true
	}
	switch strings.ToUpper(code) {
	case "PAYMENT_SUCCESS", "MANDATE_ACTIVE", "SUCCESS":
		return model.TransactionStatusSuccess, true
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "MANDATE_REVOKED", "FAILURE":
		return model.TransactionStatusFailed, true
	}
	return "", false
}

func gatewayCode(err error) string {
	var ge *domain.GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return "INTERNAL_ERROR"
}
