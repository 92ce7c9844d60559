package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnknownPlan        = errors.New("unknown plan type")
	ErrNoActiveMandate    = errors.New("no active mandate")
	ErrStateConflict      = errors.New("transition conflicts with current state")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrChargeInFlight     = errors.New("charge already in flight for this cycle")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrDuplicateWebhook   = errors.New("webhook event already processed")
)

// GatewayErrorKind separates "could not reach the gateway" from
// "the gateway answered and said no". Retry policy depends on it.
type GatewayErrorKind string

const (
	GatewayErrorTransport GatewayErrorKind = "transport"
	GatewayErrorBusiness  GatewayErrorKind = "business"
)

// GatewayError carries the gateway's business code alongside the kind
// so the orchestrator can distinguish "retry later" from "declined".
type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Kind == GatewayErrorTransport {
		return fmt.Sprintf("gateway transport error: %v", e.Err)
	}
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func NewTransportError(err error) *GatewayError {
	return &GatewayError{Kind: GatewayErrorTransport, Err: err}
}

func NewBusinessError(code, message string) *GatewayError {
	return &GatewayError{Kind: GatewayErrorBusiness, Code: code, Message: message}
}

// IsTransport reports whether err is a gateway transport failure.
func IsTransport(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == GatewayErrorTransport
}

// IsBusiness reports whether err is a gateway-reported business failure.
func IsBusiness(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == GatewayErrorBusiness
}
