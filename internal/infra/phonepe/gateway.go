package phonepe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"krishi-billing/internal/config"
	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/ports/adapter"
	"krishi-billing/internal/infra/metrics"
)

const (
	payPath           = "/pg/v1/pay"
	statusPathPrefix  = "/pg/v1/status"
	recurringPath     = "/pg/v1/recurring/debit"
	cancelMandatePath = "/pg/v1/recurring/mandate/cancel"

	statusRetries = 2 // extra attempts for the idempotent status poll
)

// Gateway implements adapter.MandateGateway against the PhonePe
// AutoPay API family. All four operations are plain HTTP requests
// signed with the X-VERIFY scheme; the gateway's eventual outcome
// arrives asynchronously via webhook or the status endpoint.
type Gateway struct {
	merchantID  string
	baseURL     string
	redirectURL string
	webhookURL  string
	saltKey     string
	signer      *Signer
	client      *http.Client
	log         *zerolog.Logger
}

var _ adapter.MandateGateway = (*Gateway)(nil)

func NewGateway(cfg config.PhonePeConfig, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		merchantID:  cfg.MerchantID,
		baseURL:     strings.TrimRight(cfg.Endpoint, "/"),
		redirectURL: cfg.RedirectURL,
		webhookURL:  cfg.WebhookURL,
		saltKey:     cfg.SaltKey,
		signer:      NewSigner(cfg.SaltKey, cfg.SaltIndex),
		client:      &http.Client{Timeout: cfg.Timeout},
		log:         logger,
	}
}

func (g *Gateway) Name() string { return "phonepe" }

// mandateRequest is the wire shape for POST /pg/v1/pay.
type mandateRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"` // paise
	MobileNumber          string            `json:"mobileNumber"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
}

type paymentInstrument struct {
	Type string `json:"type"` // UPI_MANDATE | CARD_MANDATE
}

type recurringRequest struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	MerchantUserID        string `json:"merchantUserId"`
	Amount                int64  `json:"amount"`
	MandateID             string `json:"mandateId"`
	CallbackURL           string `json:"callbackUrl"`
}

type cancelRequest struct {
	MerchantID string `json:"merchantId"`
	MandateID  string `json:"mandateId"`
}

// wireResponse mirrors the gateway's response envelope.
type wireResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		MandateID             string `json:"mandateId"`
		State                 string `json:"state"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

func (g *Gateway) CreateMandate(ctx context.Context, p adapter.CreateMandateParams) (adapter.GatewayResponse, error) {
	if p.MerchantTransactionID == "" || p.AmountPaise <= 0 {
		return adapter.GatewayResponse{}, domain.ErrInvalidArgument
	}
	req := mandateRequest{
		MerchantID:            g.merchantID,
		MerchantTransactionID: p.MerchantTransactionID,
		MerchantUserID:        p.MerchantUserID,
		Amount:                p.AmountPaise,
		MobileNumber:          p.MobileNumber,
		PaymentInstrument:     paymentInstrument{Type: "UPI_MANDATE"},
		RedirectURL:           g.redirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           g.webhookURL,
	}
	resp, err := g.post(ctx, "create_mandate", payPath, req)
	if err != nil {
		metrics.IncGatewayCall("create_mandate", "error")
		return adapter.GatewayResponse{}, err
	}
	metrics.IncGatewayCall("create_mandate", "ok")
	out := toResponse(resp)
	// the caller minted the id before the call; echo it back even when
	// the gateway omits it so the attempt stays traceable
	out.MerchantTransactionID = p.MerchantTransactionID
	return out, nil
}

func (g *Gateway) CheckStatus(ctx context.Context, merchantTransactionID string) (adapter.GatewayResponse, error) {
	if merchantTransactionID == "" {
		return adapter.GatewayResponse{}, domain.ErrInvalidArgument
	}
	path := fmt.Sprintf("%s/%s/%s", statusPathPrefix, g.merchantID, merchantTransactionID)

	var lastErr error
	for attempt := 0; attempt <= statusRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return adapter.GatewayResponse{}, domain.NewTransportError(ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		resp, err := g.get(ctx, "check_status", path)
		if err != nil {
			if domain.IsTransport(err) {
				lastErr = err
				continue // status is idempotent; safe to retry
			}
			metrics.IncGatewayCall("check_status", "error")
			return adapter.GatewayResponse{}, err
		}
		metrics.IncGatewayCall("check_status", "ok")
		return toResponse(resp), nil
	}
	metrics.IncGatewayCall("check_status", "error")
	return adapter.GatewayResponse{}, lastErr
}

func (g *Gateway) ExecuteRecurringDebit(ctx context.Context, p adapter.DebitParams) (adapter.GatewayResponse, error) {
	if p.MandateID == "" || p.MerchantTransactionID == "" || p.AmountPaise <= 0 {
		return adapter.GatewayResponse{}, domain.ErrInvalidArgument
	}
	req := recurringRequest{
		MerchantID:            g.merchantID,
		MerchantTransactionID: p.MerchantTransactionID,
		MerchantUserID:        p.MerchantUserID,
		Amount:                p.AmountPaise,
		MandateID:             p.MandateID,
		CallbackURL:           g.webhookURL,
	}
	// never auto-retried: a duplicate POST here risks a double debit.
	// Transport failures are resolved by the reconciler polling the
	// same merchantTransactionID.
	resp, err := g.post(ctx, "recurring_debit", recurringPath, req)
	if err != nil {
		metrics.IncGatewayCall("recurring_debit", "error")
		return adapter.GatewayResponse{}, err
	}
	metrics.IncGatewayCall("recurring_debit", "ok")
	out := toResponse(resp)
	out.MerchantTransactionID = p.MerchantTransactionID
	return out, nil
}

func (g *Gateway) CancelMandate(ctx context.Context, mandateID string) (adapter.GatewayResponse, error) {
	if mandateID == "" {
		return adapter.GatewayResponse{}, domain.ErrInvalidArgument
	}
	resp, err := g.post(ctx, "cancel_mandate", cancelMandatePath, cancelRequest{MerchantID: g.merchantID, MandateID: mandateID})
	if err != nil {
		// a mandate that is already cancelled is a success for our caller
		if domain.IsBusiness(err) && isAlreadyCancelled(err) {
			metrics.IncGatewayCall("cancel_mandate", "ok")
			return adapter.GatewayResponse{Success: true, Code: "MANDATE_ALREADY_CANCELLED", MandateID: mandateID}, nil
		}
		metrics.IncGatewayCall("cancel_mandate", "error")
		return adapter.GatewayResponse{}, err
	}
	metrics.IncGatewayCall("cancel_mandate", "ok")
	return toResponse(resp), nil
}

func (g *Gateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	return VerifyWebhookSignature(rawBody, signatureHeader, g.saltKey)
}

func isAlreadyCancelled(err error) bool {
	var ge *domain.GatewayError
	if !errors.As(err, &ge) {
		return false
	}
	switch ge.Code {
	case "MANDATE_ALREADY_CANCELLED", "MANDATE_ALREADY_REVOKED", "MANDATE_NOT_ACTIVE":
		return true
	}
	return false
}

// post sends a signed {"request": base64(json)} envelope.
func (g *Gateway) post(ctx context.Context, op, apiPath string, body any) (*wireResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(raw)
	envelope, err := json.Marshal(map[string]string{"request": payload})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+apiPath, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", g.signer.SignPayload(payload, apiPath))

	return g.do(op, req)
}

func (g *Gateway) get(ctx context.Context, op, apiPath string) (*wireResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+apiPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", g.signer.SignPath(apiPath))

	return g.do(op, req)
}

func (g *Gateway) do(op string, req *http.Request) (*wireResponse, error) {
	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.ObserveGatewayCall(op, time.Since(start).Seconds())
	if err != nil {
		g.log.Warn().Err(err).Str("path", req.URL.Path).Msg("gateway transport failure")
		return nil, domain.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransportError(err)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, domain.NewTransportError(fmt.Errorf("unmarshal response: %w", err))
	}
	if !wire.Success {
		return nil, domain.NewBusinessError(wire.Code, wire.Message)
	}
	return &wire, nil
}

func toResponse(w *wireResponse) adapter.GatewayResponse {
	return adapter.GatewayResponse{
		Success:               w.Success,
		Code:                  w.Code,
		Message:               w.Message,
		MerchantTransactionID: w.Data.MerchantTransactionID,
		MandateID:             w.Data.MandateID,
		State:                 w.Data.State,
		RedirectURL:           w.Data.InstrumentResponse.RedirectInfo.URL,
	}
}
