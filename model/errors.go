package model

import (
	"errors"
	"fmt"
)

// GenericErrorMessage is shown when the server gave no message of its own
const GenericErrorMessage = "Something went wrong. Please try again."

// APIError is a non-2xx answer from the MR3X API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// UserMessage returns the server's message when err carries one,
// otherwise fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if fallback == "" {
		return GenericErrorMessage
	}
	return fallback
}
