package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrorKind classifies a failed upstream call.
type ErrorKind int

const (
	// KindOther is any failure not classified below.
	KindOther ErrorKind = iota
	// KindTimeout means the upstream did not start responding within its timeout.
	KindTimeout
	// KindConnection means the upstream could not be reached.
	KindConnection
)

var (
	// ErrUpstreamTimeout matches timeout failures with errors.Is.
	ErrUpstreamTimeout = errors.New("upstream timed out")
	// ErrUpstreamConnection matches connection failures with errors.Is.
	ErrUpstreamConnection = errors.New("upstream connection failed")
)

// UpstreamError wraps a failed outbound call.
type UpstreamError struct {
	Kind     ErrorKind
	Upstream string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("upstream %s timed out: %v", e.Upstream, e.Err)
	case KindConnection:
		return fmt.Sprintf("failed to connect to upstream %s: %v", e.Upstream, e.Err)
	default:
		return fmt.Sprintf("upstream %s request failed: %v", e.Upstream, e.Err)
	}
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *UpstreamError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrUpstreamTimeout:
		return e.Kind == KindTimeout
	case ErrUpstreamConnection:
		return e.Kind == KindConnection
	}
	return false
}

// classify maps a transport error to an UpstreamError.
func classify(upstream string, err error, timedOut bool) *UpstreamError {
	if timedOut {
		return &UpstreamError{Kind: KindTimeout, Upstream: upstream, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: KindTimeout, Upstream: upstream, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: KindTimeout, Upstream: upstream, Err: err}
	}
	if isConnectionError(err) {
		return &UpstreamError{Kind: KindConnection, Upstream: upstream, Err: err}
	}
	return &UpstreamError{Kind: KindOther, Upstream: upstream, Err: err}
}

func isConnectionError(err error) bool {
	var (
		dnsErr      *net.DNSError
		opErr       *net.OpError
		recordErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		certErr     x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.As(err, &recordErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &certErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return false
}
