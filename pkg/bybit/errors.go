package bybit

import (
	"errors"
	"fmt"
)

// Result codes returned in the ret_code field.
const (
	CodeOK                   = 0
	CodeOrderNotExists       = 20001
	CodeOrderFinished        = 30032
	CodeOrderAlreadyCanceled = 30037
	CodeReduceOnlyViolated   = 30063
)

var (
	// ErrUnexpectedResponse marks a non-2xx status, an undecodable envelope or a
	// result code outside the endpoint's accepted set. Trading must halt on it.
	ErrUnexpectedResponse = errors.New("unexpected exchange response")

	// ErrMalformedFrame marks a stream frame that could not be decoded. The
	// frame is dropped; the session stays up.
	ErrMalformedFrame = errors.New("malformed stream frame")

	// ErrNotConnected is returned by session writes before Connect succeeds or after the stream died.
	ErrNotConnected = errors.New("stream not connected")
)

// APIError describes a REST call the exchange answered in an unexpected way.
type APIError struct {
	Endpoint   string
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 && e.HTTPStatus != 200 {
		return fmt.Sprintf("bybit %s: http %d: %s", e.Endpoint, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("bybit %s: ret_code %d: %s", e.Endpoint, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrUnexpectedResponse
}

// IsUnexpected reports whether err should halt automated trading.
func IsUnexpected(err error) bool {
	return errors.Is(err, ErrUnexpectedResponse)
}

func accepted(code int, extra []int) bool {
	if code == CodeOK {
		return true
	}
	for _, c := range extra {
		if c == code {
			return true
		}
	}
	return false
}
