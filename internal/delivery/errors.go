package delivery

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"
)

// Describe renders err as a short message whose wording carries its error category. The raw
// error text is kept out of the message since URLs inside it would skew categorization.
func Describe(err error, timeout time.Duration) string {
	var (
		dnsErr      *net.DNSError
		netErr      net.Error
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidBackendURL):
		return err.Error()
	case errors.Is(err, ErrUnexpectedStatus):
		return err.Error()
	case errors.Is(err, ErrRedirectRefused):
		return "http redirect to private address refused"
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("request timed out after %s", timeout)
	case errors.As(err, &dnsErr):
		return "dns resolve failed"
	case errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return "tls handshake failed"
	default:
		return "transport error"
	}
}
