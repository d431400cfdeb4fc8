package iotrix

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a required credential or endpoint is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrAuthExpired is returned when the data endpoint keeps rejecting the credential
	// after the single recovery attempt, or when no recovery path is configured.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrAuth is returned when a login or code exchange call itself fails.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork is returned on transport failures. It is never retried internally.
	ErrNetwork = errors.New("network error")
	// ErrQrCode is returned when a QR code cannot be generated or polled.
	ErrQrCode = errors.New("qr code error")
	// ErrQrExpired is returned when the issuer reports the QR code expired.
	ErrQrExpired = errors.New("qr code expired")
	// ErrQrTimeout is returned when the QR login deadline elapses before confirmation.
	ErrQrTimeout = errors.New("qr code login timed out")
)

// APIError is a non-auth, non-200 response from the vendor API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s returned %d", e.Endpoint, e.StatusCode)
}

// networkErr classifies a transport error. Cancellation by the caller is kept
// as-is so shutdowns are not reported as network failures.
func networkErr(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}
