package phonepe

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krishi-billing/internal/config"
	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/ports/adapter"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw := NewGateway(config.PhonePeConfig{
		MerchantID:  "MID123",
		SaltKey:     "test-salt",
		SaltIndex:   "1",
		Endpoint:    srv.URL,
		RedirectURL: "https://app.example/return",
		WebhookURL:  "https://app.example/api/v1/webhooks/phonepe",
		Timeout:     2 * time.Second,
	}, newTestLogger())
	return gw, srv
}

func okBody(state, mandateID string) string {
	return `{"success":true,"code":"PAYMENT_INITIATED","data":{"merchantTransactionId":"GW_ECHO","mandateId":"` + mandateID + `","state":"` + state + `","instrumentResponse":{"redirectInfo":{"url":"https://pay.example/redirect"}}}}`
}

func TestGateway_CreateMandate(t *testing.T) {
	// Arrange: capture the request to verify signing and the envelope
	var gotPath, gotVerify string
	var gotEnvelope struct {
		Request string `json:"request"`
	}
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVerify = r.Header.Get("X-VERIFY")
		_ = json.NewDecoder(r.Body).Decode(&gotEnvelope)
		io.WriteString(w, okBody("PENDING", ""))
	})

	// Act
	resp, err := gw.CreateMandate(context.Background(), adapter.CreateMandateParams{
		MerchantTransactionID: "KRISHI_M_1_ABCDEF",
		MerchantUserID:        "user-1",
		AmountPaise:           399900,
		MobileNumber:          "9876543210",
	})

	// Assert
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/pg/v1/pay" {
		t.Errorf("path = %q, want /pg/v1/pay", gotPath)
	}
	sum := sha256.Sum256([]byte(gotEnvelope.Request + "/pg/v1/pay" + "test-salt"))
	if want := hex.EncodeToString(sum[:]) + "###1"; gotVerify != want {
		t.Errorf("X-VERIFY = %q, want %q", gotVerify, want)
	}
	raw, decErr := base64.StdEncoding.DecodeString(gotEnvelope.Request)
	if decErr != nil {
		t.Fatalf("request payload is not base64: %v", decErr)
	}
	var sent map[string]any
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("request payload is not JSON: %v", err)
	}
	if sent["merchantId"] != "MID123" {
		t.Errorf("merchantId = %v", sent["merchantId"])
	}
	if sent["amount"] != float64(399900) {
		t.Errorf("amount = %v, want 399900", sent["amount"])
	}
	if inst, ok := sent["paymentInstrument"].(map[string]any); !ok || inst["type"] != "UPI_MANDATE" {
		t.Errorf("paymentInstrument = %v", sent["paymentInstrument"])
	}
	if resp.RedirectURL != "https://pay.example/redirect" {
		t.Errorf("redirect url = %q", resp.RedirectURL)
	}
	if resp.MerchantTransactionID != "KRISHI_M_1_ABCDEF" {
		t.Errorf("response must echo the minted txn id, got %q", resp.MerchantTransactionID)
	}
}

func TestGateway_CreateMandate_BusinessError(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"code":"BAD_REQUEST","message":"amount invalid"}`)
	})

	_, err := gw.CreateMandate(context.Background(), adapter.CreateMandateParams{
		MerchantTransactionID: "TXN1", MerchantUserID: "u", AmountPaise: 100,
	})
	if !domain.IsBusiness(err) {
		t.Fatalf("want business error, got %v", err)
	}
	var ge *domain.GatewayError
	if !errors.As(err, &ge) || ge.Code != "BAD_REQUEST" {
		t.Errorf("gateway code not preserved: %v", err)
	}
}

func TestGateway_CreateMandate_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	gw := NewGateway(config.PhonePeConfig{
		MerchantID: "MID123", SaltKey: "s", SaltIndex: "1",
		Endpoint: srv.URL, Timeout: time.Second,
	}, newTestLogger())

	_, err := gw.CreateMandate(context.Background(), adapter.CreateMandateParams{
		MerchantTransactionID: "TXN1", MerchantUserID: "u", AmountPaise: 100,
	})
	if !domain.IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
}

func TestGateway_CreateMandate_InvalidArgs(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent for invalid params")
	})
	if _, err := gw.CreateMandate(context.Background(), adapter.CreateMandateParams{}); err != domain.ErrInvalidArgument {
		t.Errorf("want ErrInvalidArgument, got %v", err)
	}
}

func TestGateway_CheckStatus(t *testing.T) {
	t.Run("signs the status path and parses the state", func(t *testing.T) {
		var gotPath, gotVerify string
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotVerify = r.Header.Get("X-VERIFY")
			io.WriteString(w, okBody("COMPLETED", "MANDATE9"))
		})

		resp, err := gw.CheckStatus(context.Background(), "TXN42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotPath != "/pg/v1/status/MID123/TXN42" {
			t.Errorf("path = %q", gotPath)
		}
		sum := sha256.Sum256([]byte("/pg/v1/status/MID123/TXN42" + "test-salt"))
		if want := hex.EncodeToString(sum[:]) + "###1"; gotVerify != want {
			t.Errorf("X-VERIFY = %q, want %q", gotVerify, want)
		}
		if resp.State != "COMPLETED" || resp.MandateID != "MANDATE9" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("retries transport failures", func(t *testing.T) {
		var calls atomic.Int32
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				// malformed body reads as a transport-level failure
				io.WriteString(w, "not json")
				return
			}
			io.WriteString(w, okBody("COMPLETED", ""))
		})

		resp, err := gw.CheckStatus(context.Background(), "TXN42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("calls = %d, want 2", calls.Load())
		}
		if resp.State != "COMPLETED" {
			t.Errorf("state = %q", resp.State)
		}
	})

	t.Run("repeated polls of a settled transaction agree", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, okBody("COMPLETED", "MANDATE9"))
		})

		first, err := gw.CheckStatus(context.Background(), "TXN42")
		if err != nil {
			t.Fatal(err)
		}
		second, err := gw.CheckStatus(context.Background(), "TXN42")
		if err != nil {
			t.Fatal(err)
		}
		if first.State != second.State || first.Code != second.Code {
			t.Errorf("polls disagree: %+v vs %+v", first, second)
		}
	})

	t.Run("does not retry business errors", func(t *testing.T) {
		var calls atomic.Int32
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			io.WriteString(w, `{"success":false,"code":"TRANSACTION_NOT_FOUND","message":"unknown txn"}`)
		})

		_, err := gw.CheckStatus(context.Background(), "TXN42")
		if !domain.IsBusiness(err) {
			t.Fatalf("want business error, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
	})
}

func TestGateway_ExecuteRecurringDebit_NeverRetries(t *testing.T) {
	var calls atomic.Int32
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, "not json")
	})

	_, err := gw.ExecuteRecurringDebit(context.Background(), adapter.DebitParams{
		MandateID: "MANDATE9", MerchantTransactionID: "TXN43", MerchantUserID: "u", AmountPaise: 399900,
	})
	if !domain.IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("debit must be sent exactly once, got %d calls", calls.Load())
	}
}

func TestGateway_ExecuteRecurringDebit(t *testing.T) {
	var gotPath string
	var sent map[string]any
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var env struct {
			Request string `json:"request"`
		}
		_ = json.NewDecoder(r.Body).Decode(&env)
		raw, _ := base64.StdEncoding.DecodeString(env.Request)
		_ = json.Unmarshal(raw, &sent)
		io.WriteString(w, okBody("PENDING", "MANDATE9"))
	})

	resp, err := gw.ExecuteRecurringDebit(context.Background(), adapter.DebitParams{
		MandateID: "MANDATE9", MerchantTransactionID: "TXN43", MerchantUserID: "u", AmountPaise: 399900,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/pg/v1/recurring/debit" {
		t.Errorf("path = %q", gotPath)
	}
	if sent["mandateId"] != "MANDATE9" {
		t.Errorf("mandateId = %v", sent["mandateId"])
	}
	if resp.MerchantTransactionID != "TXN43" {
		t.Errorf("txn id not echoed: %q", resp.MerchantTransactionID)
	}
}

func TestGateway_CancelMandate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotPath string
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			io.WriteString(w, `{"success":true,"code":"SUCCESS","data":{"mandateId":"MANDATE9","state":"CANCELLED"}}`)
		})

		resp, err := gw.CancelMandate(context.Background(), "MANDATE9")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotPath != "/pg/v1/recurring/mandate/cancel" {
			t.Errorf("path = %q", gotPath)
		}
		if resp.State != "CANCELLED" {
			t.Errorf("state = %q", resp.State)
		}
	})

	t.Run("already cancelled reads as success", func(t *testing.T) {
		for _, code := range []string{"MANDATE_ALREADY_CANCELLED", "MANDATE_ALREADY_REVOKED", "MANDATE_NOT_ACTIVE"} {
			gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"success":false,"code":"`+code+`","message":"nothing to do"}`)
			})
			resp, err := gw.CancelMandate(context.Background(), "MANDATE9")
			if err != nil {
				t.Errorf("%s: unexpected error %v", code, err)
				continue
			}
			if !resp.Success || resp.MandateID != "MANDATE9" {
				t.Errorf("%s: resp = %+v", code, resp)
			}
		}
	})

	t.Run("other business errors propagate", func(t *testing.T) {
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"success":false,"code":"INTERNAL_SERVER_ERROR","message":"boom"}`)
		})
		if _, err := gw.CancelMandate(context.Background(), "MANDATE9"); !domain.IsBusiness(err) {
			t.Errorf("want business error, got %v", err)
		}
	})
}

func TestGateway_VerifyWebhookSignature(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"response":"abc"}`)
	sum := sha256.Sum256(append(append([]byte{}, body...), []byte("test-salt")...))
	header := hex.EncodeToString(sum[:]) + "###1"

	if !gw.VerifyWebhookSignature(body, header) {
		t.Error("valid signature rejected")
	}
	if gw.VerifyWebhookSignature([]byte(`{"response":"abd"}`), header) {
		t.Error("tampered body accepted")
	}
}
