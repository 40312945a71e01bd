package remote

import (
	"errors"
	"net"
	"net/http"

	"github.com/driveagent/driveagent/internal/ctlerr"
)

// classifyResponse maps an HTTP response status to the core's error
// taxonomy, or nil when the response should be treated as success.
func classifyResponse(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ctlerr.New(ctlerr.Unauthorized, op, errorFromStatus(resp))
	case resp.StatusCode >= 400:
		return ctlerr.New(ctlerr.NetworkError, op, errorFromStatus(resp))
	default:
		return nil
	}
}

func errorFromStatus(resp *http.Response) error {
	return &statusError{code: resp.StatusCode, status: resp.Status}
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return e.status }

// classifyTransportError maps a transport-layer failure (connection
// refused, DNS failure, timeout) onto NetworkError, the closed set of
// failures BindingManager's cleanup paths know to swallow.
func classifyTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ctlerr.New(ctlerr.NetworkError, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ctlerr.New(ctlerr.NetworkError, op, err)
	}
	return ctlerr.New(ctlerr.NetworkError, op, err)
}

// IsNetworkError reports whether err is (or wraps) a remote.NetworkError,
// the closed set BindingManager's cleanup paths swallow.
func IsNetworkError(err error) bool {
	return ctlerr.KindOf(err) == ctlerr.NetworkError
}

// IsUnauthorized reports whether err is (or wraps) remote.Unauthorized.
func IsUnauthorized(err error) bool {
	return ctlerr.KindOf(err) == ctlerr.Unauthorized
}
