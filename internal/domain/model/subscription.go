package model

import (
	"time"

	"krishi-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial          SubscriptionStatus = "trial"
	SubscriptionStatusPendingMandate SubscriptionStatus = "pending_mandate"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusPaymentFailed  SubscriptionStatus = "payment_failed"
	SubscriptionStatusExpired        SubscriptionStatus = "expired"
	SubscriptionStatusCancelled      SubscriptionStatus = "cancelled"
)

// MerchantSubscription is one merchant's billing state: mandate,
// plan, trial window and payment counters. One row per merchant.
type MerchantSubscription struct {
	ID             string // UUID
	MerchantID     string
	MerchantUserID string
	PlanType       PlanType
	AmountPaise    int64
	Status         SubscriptionStatus
	MandateID      string // gateway mandate id once approved
	MobileNumber   string // stored encrypted at rest

	TrialStartDate *time.Time
	TrialEndDate   *time.Time

	NextBillingDate    *time.Time
	LastPaymentDate    *time.Time
	TotalPaymentsMade  int
	TotalAmountPaid    int64
	FailedPaymentCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTrialSubscription starts a merchant on a trial of the given length.
func NewTrialSubscription(id, merchantID, merchantUserID string, trialDays int) (*MerchantSubscription, error) {
	if id == "" || merchantID == "" || trialDays <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	end := now.AddDate(0, 0, trialDays)
	return &MerchantSubscription{
		ID:             id,
		MerchantID:     merchantID,
		MerchantUserID: merchantUserID,
		Status:         SubscriptionStatusTrial,
		TrialStartDate: &now,
		TrialEndDate:   &end,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// CanAccess reports whether the merchant may use the system right now.
func (s *MerchantSubscription) CanAccess(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPendingMandate:
		return true
	case SubscriptionStatusTrial:
		return s.TrialEndDate == nil || now.Before(*s.TrialEndDate)
	default:
		return false
	}
}

// CanRequestMandate reports whether a new mandate may be issued from
// the current state. A cancelled or expired merchant may start over;
// an active mandate must be cancelled first.
func (s *MerchantSubscription) CanRequestMandate() bool {
	switch s.Status {
	case SubscriptionStatusTrial, SubscriptionStatusExpired,
		SubscriptionStatusCancelled, SubscriptionStatusPaymentFailed,
		SubscriptionStatusPendingMandate:
		return true
	default:
		return false
	}
}

// Chargeable reports whether a recurring debit may be attempted.
func (s *MerchantSubscription) Chargeable() bool {
	return s.Status == SubscriptionStatusActive && s.MandateID != ""
}

// ApplyMandateApproved moves a pending mandate to active and anchors
// the first billing date one cadence from approval time.
func (s *MerchantSubscription) ApplyMandateApproved(mandateID string, now time.Time) error {
	if s.Status != SubscriptionStatusPendingMandate {
		return domain.ErrStateConflict
	}
	if mandateID == "" {
		return domain.ErrInvalidArgument
	}
	next := NextBillingDate(s.PlanType, now)
	s.Status = SubscriptionStatusActive
	s.MandateID = mandateID
	s.NextBillingDate = &next
	s.UpdatedAt = now
	return nil
}

// ApplyMandateRejected returns a pending mandate to its pre-mandate
// state so the merchant can retry.
func (s *MerchantSubscription) ApplyMandateRejected(now time.Time) error {
	if s.Status != SubscriptionStatusPendingMandate {
		return domain.ErrStateConflict
	}
	s.Status = SubscriptionStatusExpired
	if s.TrialEndDate != nil && now.Before(*s.TrialEndDate) {
		s.Status = SubscriptionStatusTrial
	}
	s.MandateID = ""
	s.UpdatedAt = now
	return nil
}

// ExpireTrialIfLapsed moves a trial past its end date to expired.
// Reports whether the status changed.
func (s *MerchantSubscription) ExpireTrialIfLapsed(now time.Time) bool {
	if s.Status != SubscriptionStatusTrial || s.TrialEndDate == nil || now.Before(*s.TrialEndDate) {
		return false
	}
	s.Status = SubscriptionStatusExpired
	s.UpdatedAt = now
	return true
}

// ApplyChargeSucceeded records a settled cycle charge and advances the
// billing anchor by exactly one cadence from the previous anchor.
func (s *MerchantSubscription) ApplyChargeSucceeded(amountPaise int64, now time.Time) error {
	if s.Status != SubscriptionStatusActive {
		return domain.ErrStateConflict
	}
	anchor := now
	if s.NextBillingDate != nil {
		anchor = *s.NextBillingDate
	}
	next := NextBillingDate(s.PlanType, anchor)
	s.NextBillingDate = &next
	s.LastPaymentDate = &now
	s.TotalPaymentsMade++
	s.TotalAmountPaid += amountPaise
	s.FailedPaymentCount = 0
	s.UpdatedAt = now
	return nil
}

// ApplyChargeFailed bumps the failure counter; past maxAttempts the
// subscription goes past-due.
func (s *MerchantSubscription) ApplyChargeFailed(maxAttempts int, now time.Time) {
	s.FailedPaymentCount++
	if maxAttempts > 0 && s.FailedPaymentCount >= maxAttempts {
		s.Status = SubscriptionStatusPaymentFailed
	}
	s.UpdatedAt = now
}

// ApplyCancelled is terminal until a new mandate is created.
func (s *MerchantSubscription) ApplyCancelled(now time.Time) {
	s.Status = SubscriptionStatusCancelled
	s.MandateID = ""
	s.NextBillingDate = nil
	s.UpdatedAt = now
}
