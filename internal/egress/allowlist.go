// Package egress decides which hosts the server may call back to.
package egress

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Allowlist matches hosts against configured domains. A domain also
// admits its subdomains. An empty allowlist admits every host.
type Allowlist struct {
	domains []string
}

// NewAllowlist normalises domains to lower case without ports or a
// leading "*." or ".".
func NewAllowlist(domains []string) *Allowlist {
	a := &Allowlist{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(strings.TrimPrefix(d, "*"), ".")
		if d != "" {
			a.domains = append(a.domains, d)
		}
	}
	return a
}

// Empty reports whether the allowlist admits every host.
func (a *Allowlist) Empty() bool {
	return a == nil || len(a.domains) == 0
}

// Allowed reports whether host (optionally with a port) may be called.
func (a *Allowlist) Allowed(host string) bool {
	if a.Empty() {
		return true
	}

	h := strings.ToLower(host)
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	h = strings.TrimSuffix(h, ".")

	for _, allowed := range a.domains {
		if h == allowed || strings.HasSuffix(h, "."+allowed) {
			return true
		}
	}
	return false
}

// CheckURL parses raw as an absolute http(s) URL and applies the allowlist.
func (a *Allowlist) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid callback_url")
	}
	if !a.Allowed(u.Host) {
		return fmt.Errorf("callback host %q is not allowed", u.Hostname())
	}
	return nil
}
