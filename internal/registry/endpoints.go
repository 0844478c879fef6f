package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	LiFiBaseURL        = "https://li.quest/v1"
	AcrossBaseURL      = "https://app.across.to/api"
	DefiLlamaCoinURL   = "https://coins.llama.fi"
	BungeeBaseURL      = "https://public-backend.bungee.exchange/api/v1"
	BungeeDedicatedURL = "https://dedicated-backend.bungee.exchange/api/v1"
)

// ProviderBaseURL returns the canonical API root of a quote or price
// provider.
func ProviderBaseURL(provider string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "lifi":
		return LiFiBaseURL, true
	case "across":
		return AcrossBaseURL, true
	case "defillama":
		return DefiLlamaCoinURL, true
	case "bungee":
		return BungeeBaseURL, true
	default:
		return "", false
	}
}

// IsAllowedProviderURL reports whether endpoint may replace the provider's
// canonical base URL. Loopback hosts are always accepted; anything else must
// be https on the canonical host and path.
func IsAllowedProviderURL(provider, endpoint string) bool {
	if strings.TrimSpace(endpoint) == "" {
		return true
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	if isLoopbackHost(parsed.Hostname()) {
		scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
		return scheme == "" || scheme == "http" || scheme == "https"
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Scheme), "https") {
		return false
	}
	allowedRaw, ok := ProviderBaseURL(provider)
	if !ok {
		return false
	}
	allowed, err := url.Parse(allowedRaw)
	if err != nil {
		return false
	}
	if !strings.EqualFold(parsed.Hostname(), allowed.Hostname()) {
		return false
	}
	if normalizedURLPort(parsed) != normalizedURLPort(allowed) {
		return false
	}
	return normalizedURLPath(parsed.Path) == normalizedURLPath(allowed.Path)
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPort(parsed *url.URL) string {
	if port := strings.TrimSpace(parsed.Port()); port != "" {
		return port
	}
	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func normalizedURLPath(path string) string {
	p := strings.TrimSuffix(strings.TrimSpace(path), "/")
	if p == "" {
		return "/"
	}
	return p
}
