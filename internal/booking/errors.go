package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tablebooksdk "tablebook/sdk/go"
)

// ValidationError reports input the flow refuses locally, before any
// network call is made.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// AuthError reports a rejected or expired session.
type AuthError struct {
	Msg string
}

func (e AuthError) Error() string { return e.Msg }

// NetworkError reports a transport failure where the outcome of the call
// is unknown.
type NetworkError struct {
	Err error
}

func (e NetworkError) Error() string { return fmt.Sprintf("network failure: %v", e.Err) }
func (e NetworkError) Unwrap() error { return e.Err }

// ServerError reports a backend rejection or fault.
type ServerError struct {
	StatusCode int
	Msg        string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error (status %d): %s", e.StatusCode, e.Msg)
}

// GatewayError reports a payment declined or otherwise failed at the
// processor. The payment handle stays usable for another attempt.
type GatewayError struct {
	Reason string
}

func (e GatewayError) Error() string { return fmt.Sprintf("payment failed: %s", e.Reason) }

// ConsistencyError reports the one state this flow cannot resolve on its
// own: the payment settled but persisting the reservation failed. It must
// be surfaced verbatim so the guest contacts the restaurant or retries,
// never as a generic failure.
type ConsistencyError struct {
	PaymentIntentID string
	Err             error
}

func (e ConsistencyError) Error() string {
	return fmt.Sprintf("payment succeeded (intent %s) but the reservation could not be saved: %v; retry or contact the restaurant", e.PaymentIntentID, e.Err)
}

func (e ConsistencyError) Unwrap() error { return e.Err }

// classify maps transport and API failures onto the flow's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tablebooksdk.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return AuthError{Msg: "session rejected; sign in again"}
		case apiErr.StatusCode >= 500:
			return ServerError{StatusCode: apiErr.StatusCode, Msg: apiErr.Body}
		default:
			return ServerError{StatusCode: apiErr.StatusCode, Msg: apiErr.Body}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NetworkError{Err: err}
	}
	var ve ValidationError
	var ge GatewayError
	var ce ConsistencyError
	var ae AuthError
	if errors.As(err, &ve) || errors.As(err, &ge) || errors.As(err, &ce) || errors.As(err, &ae) {
		return err
	}
	return NetworkError{Err: err}
}
