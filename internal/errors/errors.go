package errors

import (
	"fmt"
	"net/http"
)

// Kind identifies an error category so remote clients can branch on it
// instead of parsing messages.
type Kind string

const (
	KindAuthenticationExpired  Kind = "AUTHENTICATION_EXPIRED"
	KindAuthenticationNotFound Kind = "AUTHENTICATION_NOT_FOUND"
	KindPermissionDenied       Kind = "PERMISSION_DENIED"
	KindRowAlreadyExists       Kind = "ROW_ALREADY_EXISTS"
	KindRowNotFound            Kind = "ROW_NOT_FOUND"
	KindPropertyNotFound       Kind = "PROPERTY_NOT_FOUND"
	KindDomainNotFound         Kind = "DOMAIN_NOT_FOUND"
	KindDomainLock             Kind = "DOMAIN_LOCK"
	KindDomainEditing          Kind = "DOMAIN_EDITING"
	KindItemNotFound           Kind = "ITEM_NOT_FOUND"
	KindDispatcherExpired      Kind = "DISPATCHER_EXPIRED"
	KindInvalidOperation       Kind = "INVALID_OPERATION"
	KindValidation             Kind = "VALIDATION"
	KindConflict               Kind = "CONFLICT"
	KindInternal               Kind = "INTERNAL"
)

// APIError is the structured error that crosses the service boundary.
// Details carries the identifiers relevant to the failure (row key,
// item path, user id) so clients can act on them.
type APIError struct {
	Kind     Kind           `json:"kind"`
	Status   int            `json:"-"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Internal error          `json:"-"`
}

func (e *APIError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Internal
}

// WithDetail returns the error with an identifier attached.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func newError(kind Kind, status int, message string, err error) *APIError {
	return &APIError{
		Kind:     kind,
		Status:   status,
		Message:  message,
		Internal: err,
	}
}

func AuthenticationExpired() *APIError {
	return newError(KindAuthenticationExpired, http.StatusUnauthorized, "Authentication expired", nil)
}

func AuthenticationNotFound() *APIError {
	return newError(KindAuthenticationNotFound, http.StatusUnauthorized, "Authentication not found", nil)
}

func PermissionDenied(message string) *APIError {
	return newError(KindPermissionDenied, http.StatusForbidden, message, nil)
}

func RowAlreadyExists(rowID string) *APIError {
	return newError(KindRowAlreadyExists, http.StatusConflict, "Row already exists", nil).
		WithDetail("row_id", rowID)
}

func RowNotFound(rowID string) *APIError {
	return newError(KindRowNotFound, http.StatusNotFound, "Row not found", nil).
		WithDetail("row_id", rowID)
}

func PropertyNotFound(name string) *APIError {
	return newError(KindPropertyNotFound, http.StatusNotFound, "Property not found", nil).
		WithDetail("property", name)
}

func DomainNotFound(domainID string) *APIError {
	return newError(KindDomainNotFound, http.StatusNotFound, "Domain not found", nil).
		WithDetail("domain_id", domainID)
}

func DomainLock(message string, holderID uint64) *APIError {
	return newError(KindDomainLock, http.StatusConflict, message, nil).
		WithDetail("holder_id", holderID)
}

func DomainEditing(message string) *APIError {
	return newError(KindDomainEditing, http.StatusConflict, message, nil)
}

func ItemNotFound(itemPath string) *APIError {
	return newError(KindItemNotFound, http.StatusNotFound, "Item not found", nil).
		WithDetail("item_path", itemPath)
}

func DispatcherExpired(name string) *APIError {
	return newError(KindDispatcherExpired, http.StatusGone, fmt.Sprintf("Dispatcher %q has been shut down", name), nil)
}

func InvalidOperation(message string) *APIError {
	return newError(KindInvalidOperation, http.StatusInternalServerError, message, nil)
}

func Validation(err error) *APIError {
	return newError(KindValidation, http.StatusBadRequest, "Invalid input", err)
}

func Conflict(message string, err error) *APIError {
	return newError(KindConflict, http.StatusConflict, message, err)
}

func Unauthorized(message string, err error) *APIError {
	return newError(KindAuthenticationNotFound, http.StatusUnauthorized, message, err)
}

func Internal(err error) *APIError {
	return newError(KindInternal, http.StatusInternalServerError, "Internal server error", err)
}
