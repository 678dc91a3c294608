// Package policy validates outbound requests against the engine's URL and
// host-allowlist rules (spec §6 "Outbound HTTP"), using golang.org/x/net/idna
// for Unicode-aware hostname comparison.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"romvault-engine/internal/apperr"
)

// HostPolicy enforces scheme and host-allowlist rules at add() time.
type HostPolicy struct {
	allowlist map[string]bool // normalized (ASCII/punycode, lowercase) hostnames
}

// NewHostPolicy builds a policy from the configured allowlist. An empty
// allowlist means "allow any https host" (spec §6 only requires an
// allow-list check when one is configured).
func NewHostPolicy(hosts []string) (*HostPolicy, error) {
	p := &HostPolicy{allowlist: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		normalized, err := normalizeHost(h)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid allowlist host %q: %w", h, err)
		}
		p.allowlist[normalized] = true
	}
	return p, nil
}

func normalizeHost(host string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return "", err
	}
	return ascii, nil
}

// ValidateURL enforces https-only and, if an allowlist is configured, host
// membership.
func (p *HostPolicy) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "", "malformed URL", err)
	}
	if u.Scheme != "https" {
		return nil, apperr.New(apperr.Validation, "", "only https:// URLs are accepted")
	}
	if len(p.allowlist) == 0 {
		return u, nil
	}
	host, err := normalizeHost(u.Hostname())
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "", "invalid host", err)
	}
	if !p.allowlist[host] {
		return nil, apperr.New(apperr.Validation, "", fmt.Sprintf("host %q is not allow-listed", u.Hostname()))
	}
	return u, nil
}

// AllowsHost reports whether a redirect target stays within the allowlist
// (§6 "3xx follow up to N redirects within the host allow-list").
func (p *HostPolicy) AllowsHost(host string) bool {
	if len(p.allowlist) == 0 {
		return true
	}
	normalized, err := normalizeHost(host)
	if err != nil {
		return false
	}
	return p.allowlist[normalized]
}
