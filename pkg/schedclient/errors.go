package schedclient

import (
	"errors"
	"fmt"
)

type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scheduler api error (%d): %s", e.Status, e.Message)
}

// Permanent reports whether the error is a business rejection that retrying
// cannot fix. Timeouts, 5xx and 429 stay retryable.
func Permanent(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
}
