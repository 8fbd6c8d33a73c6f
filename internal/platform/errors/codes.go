package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeInvalidArgument indicates malformed caller input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeUnauthenticated indicates missing or unusable credentials.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	// CodePermissionDenied indicates the caller is known but not allowed.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	// CodeNotFound indicates a missing record or resource.
	CodeNotFound Code = "NOT_FOUND"
	// CodeUnavailable indicates a collaborator could not be reached.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps the code to the HTTP status used when rendering it.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusForbidden
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
