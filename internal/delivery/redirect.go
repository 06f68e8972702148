package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/JakeFAU/crawler-sentinel/internal/reqinfo"
)

// ErrRedirectRefused is returned when a redirect points at a private or loopback address.
var ErrRedirectRefused = errors.New("redirect to non-public address refused")

const maxRedirects = 5

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var defaultResolver Resolver = net.DefaultResolver

func redirectGuard(resolver Resolver) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		host := req.URL.Hostname()
		if addr, err := netip.ParseAddr(host); err == nil {
			if !reqinfo.IsPublic(addr) {
				return fmt.Errorf("%w: %s", ErrRedirectRefused, addr)
			}
			return nil
		}

		ctx, cancel := context.WithTimeout(req.Context(), time.Second)
		defer cancel()
		addrs, err := resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return fmt.Errorf("resolve redirect target: %w", err)
		}
		for _, addr := range addrs {
			if !reqinfo.IsPublic(addr.Unmap()) {
				return fmt.Errorf("%w: %s resolves to %s", ErrRedirectRefused, host, addr)
			}
		}
		return nil
	}
}
