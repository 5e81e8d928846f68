package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
)

// Category groups failures by the message shown to the user
type Category string

const (
	CategoryConnectivity Category = "connectivity"
	CategoryTimeout      Category = "timeout"
	CategoryNotFound     Category = "not_found"
	CategoryForbidden    Category = "forbidden"
	CategoryValidation   Category = "validation"
	CategorySession      Category = "session"
	CategoryCanceled     Category = "canceled"
	CategoryGeneric      Category = "generic"
)

var messages = map[Category]string{
	CategoryConnectivity: "Unable to reach the server. Please check your connection.",
	CategoryTimeout:      "The request timed out. Please try again.",
	CategoryNotFound:     "The requested resource was not found.",
	CategoryForbidden:    "You do not have permission to perform this action.",
	CategoryValidation:   "The submitted data is invalid. Please check your input.",
	CategorySession:      "Your session has expired. Please log in again.",
	CategoryCanceled:     "The request was canceled.",
	CategoryGeneric:      "An unexpected error occurred. Please try again later.",
}

// Classify maps an error returned by the gateway to a category. Failures of the session
// come first since a refresh that timed out is still reported as an expired session.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.Is(err, gwerrors.ErrNoRefreshToken),
		errors.Is(err, gwerrors.ErrRefreshFailed),
		errors.Is(err, gwerrors.ErrUnauthorized):
		return CategorySession
	case errors.Is(err, gwerrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, gwerrors.ErrTransport):
		return CategoryConnectivity
	}
	switch gwerrors.StatusCode(err) {
	case http.StatusNotFound:
		return CategoryNotFound
	case http.StatusForbidden:
		return CategoryForbidden
	case http.StatusUnprocessableEntity:
		return CategoryValidation
	}
	return CategoryGeneric
}

func Message(c Category) string {
	if msg, found := messages[c]; found {
		return msg
	}
	return messages[CategoryGeneric]
}
