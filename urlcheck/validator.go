package urlcheck

import (
	"net"
	"net/url"
	"strings"
)

// Result classifies a candidate upstream base URL. A malformed URL is
// invalid but not blocked; the distinction matters to callers reporting
// back to users.
type Result struct {
	IsValid       bool   `json:"is_valid"`
	IsBlocked     bool   `json:"is_blocked"`
	Reason        string `json:"reason,omitempty"`
	BlockedDomain string `json:"blocked_domain,omitempty"`

	// NormalizedURL is the lowercased, scheme-qualified form a valid URL
	// should be dialed with.
	NormalizedURL string `json:"normalized_url,omitempty"`
}

// blacklistedDomains are never acceptable relay targets: official
// AI-provider endpoints (the relay must not be used to launder traffic to
// providers' own APIs) and government, military, education and financial
// domains. Matching is exact or on a dot boundary, so api-openai.com does
// not match openai.com.
var blacklistedDomains = []string{
	// official AI provider APIs
	"openai.com",
	"api.openai.com",
	"anthropic.com",
	"api.anthropic.com",
	"googleapis.com",
	"generativelanguage.googleapis.com",
	"gemini.google.com",
	"api.mistral.ai",
	"api.cohere.ai",
	"api.x.ai",
	"bedrock.amazonaws.com",
	"azure.com",
	"openai.azure.com",

	// government / military / education
	"gov",
	"mil",
	"gov.cn",
	"gov.uk",
	"mil.cn",
	"edu",
	"edu.cn",
	"police.uk",

	// financial infrastructure
	"swift.com",
	"federalreserve.gov",
	"ecb.europa.eu",
	"bankofengland.co.uk",
	"pbc.gov.cn",
}

// localHostnames are exact-match names that always resolve to this machine.
var localHostnames = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
	"::1":       true,
}

// ValidateBaseURL classifies a third-party API base URL before the relay
// dials it. Pure function, no I/O.
func ValidateBaseURL(raw string) *Result {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return &Result{Reason: "empty URL"}
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return &Result{Reason: "malformed URL"}
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &Result{Reason: "unsupported scheme: " + parsed.Scheme}
	}

	host := parsed.Hostname()

	if isLocalAddress(host) {
		return &Result{IsBlocked: true, Reason: "local address", BlockedDomain: host}
	}

	for _, domain := range blacklistedDomains {
		if matchesDomain(host, domain) {
			return &Result{IsBlocked: true, Reason: "blacklisted domain", BlockedDomain: domain}
		}
	}

	return &Result{IsValid: true, NormalizedURL: trimmed}
}

// matchesDomain applies the dot-boundary suffix rule: the hostname is the
// domain itself or a subdomain of it. Substring lookalikes do not match.
func matchesDomain(hostname, domain string) bool {
	return hostname == domain || strings.HasSuffix(hostname, "."+domain)
}

func isLocalAddress(host string) bool {
	if localHostnames[host] {
		return true
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified() || isPrivate(ip)
}

// isPrivate covers 10.0.0.0/8, 192.168.0.0/16 and 172.16.0.0/12.
func isPrivate(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	switch {
	case v4[0] == 10:
		return true
	case v4[0] == 192 && v4[1] == 168:
		return true
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return true
	}
	return false
}
