package metrics

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type customError struct{}

func (*customError) Error() string { return "custom" }

func TestTransportReason(t *testing.T) {
	wrapURL := func(err error) error {
		return &url.Error{Op: "Get", URL: "http://example.invalid", Err: err}
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"context deadline", wrapURL(context.DeadlineExceeded), ReasonTimeout},
		{"os deadline", wrapURL(os.ErrDeadlineExceeded), ReasonTimeout},
		{"net timeout", wrapURL(timeoutErr{}), ReasonTimeout},
		{"canceled", fmt.Errorf("do: %w", context.Canceled), ReasonCanceled},
		{"refused", wrapURL(&net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}), ReasonRefused},
		{"reset", wrapURL(&net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}), ReasonReset},
		{"eof", wrapURL(io.EOF), ReasonReset},
		{"unreachable", wrapURL(syscall.EHOSTUNREACH), ReasonUnreachable},
		{"dns", wrapURL(&net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "example.invalid"}}), ReasonDNS},
		{"tls unknown authority", wrapURL(x509.UnknownAuthorityError{}), ReasonTLS},
		{"tls hostname", wrapURL(x509.HostnameError{Host: "example.invalid"}), ReasonTLS},
		{"fallback type name", wrapURL(&customError{}), "Custom Error (metrics)"},
		{"plain error", errors.New("boom"), "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TransportReason(tt.err); got != tt.want {
				t.Errorf("TransportReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFriendlyErrorName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "Unknown error"},
		{"*url.Error", "Request URL error"},
		{"*net.OpError", "Op Error (net)"},
		{"*tls.RecordHeaderError", "Record Header Error (tls)"},
		{"github.com/acme/client.HTTPTimeoutError", "HTTP Timeout Error (client)"},
		{"main.ErrV2", "Err V 2"},
	}
	for _, tt := range tests {
		if got := FriendlyErrorName(tt.in); got != tt.want {
			t.Errorf("FriendlyErrorName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
