package fetchers

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// NetworkError covers socket, DNS, timeout and server-side failures when
// talking to a provider.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RateLimitedError is returned when a provider asked us to back off, either
// via HTTP 429 or a provider-specific in-band marker.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// BadResponseError is returned when the provider gave a well-formed HTTP
// response with a malformed or unexpected body.
type BadResponseError struct {
	Err error
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("bad response: %s", e.Err)
}

func (e *BadResponseError) Unwrap() error {
	return e.Err
}

// ErrUnsupported is returned by adapters that cannot serve a request type,
// e.g. a provider whose transaction stream mishandles P2PK outputs.
var ErrUnsupported = errors.New("operation not supported by this provider")

// IsRateLimited returns the requested backoff when err is a rate-limit
// signal.
func IsRateLimited(err error) (time.Duration, bool) {
	var rateLimited *RateLimitedError
	if errors.As(err, &rateLimited) {
		return rateLimited.RetryAfter, true
	}
	return 0, false
}

// IsNetwork reports whether err is a network-level failure.
func IsNetwork(err error) bool {
	var networkErr *NetworkError
	return errors.As(err, &networkErr)
}

// IsBadResponse reports whether err is a malformed-response failure.
func IsBadResponse(err error) bool {
	var badResponse *BadResponseError
	return errors.As(err, &badResponse)
}
