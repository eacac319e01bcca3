package api

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// Error is a non-2xx gateway response. Payload carries the raw body so
// callers can inspect it; Detail is the FastAPI-style error message when the
// body has one.
type Error struct {
	Status  int
	Payload []byte
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("gateway returned %d", e.Status)
}

func newError(status int, payload []byte) *Error {
	e := &Error{Status: status, Payload: payload}
	var body struct {
		Detail string `json:"detail"`
		Err    string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Detail != "" {
			e.Detail = body.Detail
		} else {
			e.Detail = body.Err
		}
	}
	return e
}

// IsStatus reports whether err is a gateway error with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}
