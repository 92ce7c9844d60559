package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
)

// webhook bodies are small JSON payloads; anything larger is abuse.
const maxWebhookBody = 64 << 10

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	sig := r.Header.Get("X-VERIFY")

	err = s.billing.ApplyWebhook(r.Context(), body, sig)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrSignatureMismatch):
		// unverified payload: reveal nothing beyond the status code
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrInvalidArgument):
		http.Error(w, "Bad Request", http.StatusBadRequest)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !CheckPassword(req.Password, s.password) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint()
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	var req struct {
		MerchantUserID string `json:"merchant_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sub, err := s.billing.RegisterMerchant(r.Context(), merchantID, req.MerchantUserID)
	if errors.Is(err, domain.ErrAlreadyExists) {
		writeJSON(w, http.StatusOK, subscriptionView(sub))
		return
	}
	if err != nil {
		http.Error(w, "Failed to register merchant", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionView(sub))
}

func (s *Server) handleStartMandate(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	var req struct {
		PlanType     string `json:"plan_type"`
		MobileNumber string `json:"mobile_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	plan := model.PlanType(req.PlanType)
	if !plan.Valid() {
		http.Error(w, "Unknown plan type", http.StatusBadRequest)
		return
	}

	rec, redirectURL, err := s.billing.StartMandate(r.Context(), merchantID, plan, req.MobileNumber)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"merchant_transaction_id": rec.MerchantTransactionID,
			"redirect_url":            redirectURL,
		})
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Merchant not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrStateConflict):
		http.Error(w, "Mandate not allowed in current state", http.StatusConflict)
	case domain.IsTransport(err):
		// attempt persisted; the reconciler will settle it
		http.Error(w, "Payment system unavailable, try later", http.StatusServiceUnavailable)
	case domain.IsBusiness(err):
		http.Error(w, "Payment failed, retry", http.StatusBadGateway)
	default:
		http.Error(w, "Failed to start mandate", http.StatusInternalServerError)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	err := s.billing.Cancel(r.Context(), merchantID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Merchant not found", http.StatusNotFound)
	case domain.IsTransport(err):
		http.Error(w, "Payment system unavailable, try later", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Failed to cancel mandate", http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	sub, err := s.billing.Status(r.Context(), merchantID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Merchant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load subscription", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub))
}

type subscriptionResponse struct {
	MerchantID         string     `json:"merchant_id"`
	PlanType           string     `json:"plan_type,omitempty"`
	Status             string     `json:"status"`
	AmountDisplay      string     `json:"amount_display,omitempty"`
	AmountPaise        int64      `json:"amount_paise,omitempty"`
	MandateActive      bool       `json:"mandate_active"`
	TrialEndDate       *time.Time `json:"trial_end_date,omitempty"`
	NextBillingDate    *time.Time `json:"next_billing_date,omitempty"`
	LastPaymentDate    *time.Time `json:"last_payment_date,omitempty"`
	TotalPaymentsMade  int        `json:"total_payments_made"`
	TotalAmountPaid    int64      `json:"total_amount_paid"`
	FailedPaymentCount int        `json:"failed_payment_count"`
	CanAccess          bool       `json:"can_access_system"`
}

func subscriptionView(sub *model.MerchantSubscription) subscriptionResponse {
	out := subscriptionResponse{
		MerchantID:         sub.MerchantID,
		PlanType:           string(sub.PlanType),
		Status:             string(sub.Status),
		AmountPaise:        sub.AmountPaise,
		MandateActive:      sub.MandateID != "",
		TrialEndDate:       sub.TrialEndDate,
		NextBillingDate:    sub.NextBillingDate,
		LastPaymentDate:    sub.LastPaymentDate,
		TotalPaymentsMade:  sub.TotalPaymentsMade,
		TotalAmountPaid:    sub.TotalAmountPaid,
		FailedPaymentCount: sub.FailedPaymentCount,
		CanAccess:          sub.CanAccess(time.Now()),
	}
	if sub.AmountPaise > 0 {
		out.AmountDisplay = model.FormatAmount(sub.AmountPaise)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
