package retell

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

// APIError is a non-2xx response from Retell.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("retell api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("retell api error: status %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether Retell rejected the API key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

type TransportKind string

const (
	TransportTimeout    TransportKind = "timeout"
	TransportDNS        TransportKind = "dns"
	TransportConnection TransportKind = "connection"
	TransportCanceled   TransportKind = "canceled"
	TransportOther      TransportKind = "other"
)

// TransportError is a failure to reach Retell or to read its response.
type TransportError struct {
	Kind TransportKind
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("retell %s: %s failure: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(op string, err error) *TransportError {
	return &TransportError{Kind: ClassifyTransport(err), Op: op, Err: err}
}

// ClassifyTransport maps a network error chain to a TransportKind. It inspects error
// types only.
func ClassifyTransport(err error) TransportKind {
	if err == nil {
		return TransportOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportTimeout
	}
	if errors.Is(err, context.Canceled) {
		return TransportCanceled
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return TransportDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TransportTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return TransportConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransportConnection
	}
	return TransportOther
}
