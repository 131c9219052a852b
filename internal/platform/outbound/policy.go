// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package outbound enforces the HTTP access policy for remote metadata
// agents: https-only by default, host allowlist with IDNA normalization,
// and no dials into private ranges.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"golang.org/x/net/idna"
)

var (
	// ErrNotAllowed indicates the URL did not match the agent allowlist.
	ErrNotAllowed = errors.New("outbound url not allowed")
	// ErrPrivateAddress indicates the target resolved into a private range.
	ErrPrivateAddress = errors.New("outbound dial into private range")
)

// Policy is the outbound access policy applied to every remote agent client.
// An empty Hosts list allows any public host.
type Policy struct {
	Hosts        []string
	AllowHTTP    bool // plain http targets, off by default
	AllowPrivate bool // RFC1918/loopback targets, for lab setups only
}

// NormalizeHost validates and canonicalizes a hostname for comparison.
// IDNA hosts map to their ASCII form; IPs map to their canonical text form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.ContainsAny(host, "/@") || strings.Contains(host, "://") {
		return "", fmt.Errorf("host must be bare: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateURL checks a request URL against the policy before any dial.
func (p Policy) ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return fmt.Errorf("%w: scheme http", ErrNotAllowed)
		}
	default:
		return fmt.Errorf("%w: scheme %q", ErrNotAllowed, scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: userinfo present", ErrNotAllowed)
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return err
	}
	if len(p.Hosts) == 0 {
		return nil
	}
	for _, allowed := range p.Hosts {
		norm, err := NormalizeHost(allowed)
		if err != nil {
			continue
		}
		if host == norm || (strings.HasPrefix(norm, ".") && strings.HasSuffix(host, norm)) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q", ErrNotAllowed, host)
}

// isPrivate reports whether ip belongs to a range remote agents must never
// reach: loopback, RFC1918, link-local, or unspecified.
func isPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// Control is a dialer control hook rejecting private targets post-DNS, so a
// public hostname cannot be rebound into the LAN.
func (p Policy) Control(network, address string, _ syscall.RawConn) error {
	if p.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("split outbound address: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("outbound address not an ip: %s", host)
	}
	if isPrivate(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

// Transport returns an http.RoundTripper enforcing the policy: URL check
// before the dial, private-range check after DNS, and redirect confinement
// is handled by CheckRedirect on the client.
func (p Policy) Transport(base *http.Transport) http.RoundTripper {
	t := base
	if t == nil {
		t = http.DefaultTransport.(*http.Transport).Clone()
	}
	dialer := &net.Dialer{Control: p.Control}
	t.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, address)
	}
	return &policyTripper{policy: p, next: t}
}

type policyTripper struct {
	policy Policy
	next   http.RoundTripper
}

func (pt *policyTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := pt.policy.ValidateURL(req.URL.String()); err != nil {
		return nil, err
	}
	return pt.next.RoundTrip(req)
}

// CheckRedirect confines redirects to the same policy; agents following a
// redirect out of the allowlist fail the request.
func (p Policy) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("%w: too many redirects", ErrNotAllowed)
	}
	return p.ValidateURL(req.URL.String())
}
