package syncclient

import (
	"errors"
	"fmt"
)

var (
	ErrTransport            = errors.New("transport failed")
	ErrUnsupportedTransport = errors.New("transport unsupported")
)

// APIError is a non-2xx answer from the queue server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("queue server returned %d", e.Status)
	}
	return fmt.Sprintf("queue server returned %d: %s (%s)", e.Status, e.Message, e.Code)
}
