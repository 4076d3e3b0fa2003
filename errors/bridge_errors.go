package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind classifies a BridgeError. It drives the HTTP status returned to callers.
type Kind string

// Error kinds.
const (
	KindBadRequest             Kind = "bad_request"
	KindUnknownResource        Kind = "unknown_resource"
	KindUnauthorized           Kind = "unauthorized"
	KindInternal               Kind = "internal_error"
	KindService                Kind = "service_error"
	KindWebhookDeliveryFailure Kind = "webhook_delivery_failure"
)

// BridgeError represents a failure surfaced by the bridge, carrying an optional
// structured ErrorObject that is returned to the partner as-is.
type BridgeError struct {
	Kind        Kind
	Message     string
	ErrorObject any

	// SkipWebhook is set once a webhook delivery has been attempted and failed,
	// so the onboarding error path does not try a second doomed delivery.
	SkipWebhook bool
	// WebhookParams holds the webhook parameters computed before the failure.
	WebhookParams map[string]any

	Err error
}

func (e *BridgeError) Error() string {
	return e.Message
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status code.
func (e *BridgeError) StatusCode() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnknownResource:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors

func NewBadRequest(msg string, obj any) *BridgeError {
	return &BridgeError{Kind: KindBadRequest, Message: "Bad request: " + msg, ErrorObject: obj}
}

func NewUnknownResource(msg string, obj any) *BridgeError {
	return &BridgeError{Kind: KindUnknownResource, Message: "Resource not found: " + msg, ErrorObject: obj}
}

func NewUnauthorized(msg string, obj any) *BridgeError {
	m := "Unauthorized"
	if msg != "" {
		m += ": " + msg
	}
	return &BridgeError{Kind: KindUnauthorized, Message: m, ErrorObject: obj}
}

func NewInternal(msg string, obj any) *BridgeError {
	return &BridgeError{Kind: KindInternal, Message: "Internal Error: " + msg, ErrorObject: obj}
}

func NewServiceError(msg string, obj any) *BridgeError {
	return &BridgeError{Kind: KindService, Message: "Service Error: " + msg, ErrorObject: obj}
}

// NewWebhookDeliveryFailure reports an unreachable partner endpoint. The
// returned error is always flagged with SkipWebhook.
func NewWebhookDeliveryFailure(msg string, obj any, params map[string]any, cause error) *BridgeError {
	return &BridgeError{
		Kind:          KindWebhookDeliveryFailure,
		Message:       msg,
		ErrorObject:   obj,
		SkipWebhook:   true,
		WebhookParams: params,
		Err:           cause,
	}
}

// As returns the BridgeError in err's chain, if any.
func As(err error) (*BridgeError, bool) {
	var be *BridgeError
	if stderrors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Wrap returns err as a BridgeError. Errors that are not already a
// BridgeError become internal errors keeping the original message.
func Wrap(err error) *BridgeError {
	if err == nil {
		return nil
	}
	if be, ok := As(err); ok {
		return be
	}
	return &BridgeError{Kind: KindInternal, Message: err.Error(), Err: err}
}

// IsKind reports whether err is a BridgeError of the given kind.
func IsKind(err error, kind Kind) bool {
	be, ok := As(err)
	return ok && be.Kind == kind
}

// WithCause sets the underlying error and returns e.
func (e *BridgeError) WithCause(err error) *BridgeError {
	e.Err = err
	return e
}
