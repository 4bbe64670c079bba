package worker

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Caller-side sanitizers for values that end up on a worker command line
// or in an environment variable. The invoker forwards arguments verbatim,
// so every call site validates its free-text fields against these
// allow-lists before invoking.

var (
	addressRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	hostRe    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9\-.]*[A-Za-z0-9])?$`)
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)
)

// ValidateAddress accepts a bare email address. Display-name forms
// ("Jane <jane@x.com>") must be reduced with ExtractAddress first.
func ValidateAddress(addr string) error {
	if !addressRe.MatchString(addr) {
		return fmt.Errorf("invalid email address %q", addr)
	}
	return nil
}

// ExtractAddress pulls the bare address out of a "Name <addr>" header
// value; a bare address passes through unchanged.
func ExtractAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			return strings.TrimSpace(from[i+1 : i+j])
		}
	}
	return from
}

// ValidateHost accepts hostnames for SMTP/IMAP servers.
func ValidateHost(host string) error {
	if len(host) == 0 || len(host) > 253 || !hostRe.MatchString(host) {
		return fmt.Errorf("invalid host %q", host)
	}
	return nil
}

// ValidateName accepts provider and model identifiers ("ollama",
// "llama3.2:1b", "gpt-4o-mini").
func ValidateName(name string) error {
	if name == "" || len(name) > 128 || !nameRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// ValidateEndpoint accepts http(s) URLs for model endpoints. Empty is
// allowed: workers fall back to their provider default.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint URL %q", endpoint)
	}
	return nil
}
