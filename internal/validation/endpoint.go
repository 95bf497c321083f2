package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EndpointValidator checks the remote endpoints storyfeed connects to: the
// API base URL and the websocket update stream.
type EndpointValidator struct {
	// Schemes lists the accepted schemes; the first is assumed when the
	// input has none.
	Schemes []string
	// AllowLocalhost determines if localhost URLs are permitted
	AllowLocalhost bool
	// AllowPrivateIPs determines if private IP addresses are permitted
	AllowPrivateIPs bool
	// MaxLength is the maximum allowed URL length
	MaxLength int
}

// NewEndpointValidator creates a validator with secure defaults.
func NewEndpointValidator(schemes ...string) *EndpointValidator {
	if len(schemes) == 0 {
		schemes = []string{"https", "http"}
	}
	return &EndpointValidator{Schemes: schemes, MaxLength: 2048}
}

// NewPermissiveEndpointValidator allows local development endpoints.
func NewPermissiveEndpointValidator(schemes ...string) *EndpointValidator {
	v := NewEndpointValidator(schemes...)
	v.AllowLocalhost = true
	v.AllowPrivateIPs = true
	return v
}

// ValidateAndNormalize validates an endpoint URL and returns the normalized version
func (v *EndpointValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return "", fmt.Errorf("URL contains invalid characters")
	}

	if !strings.Contains(input, "://") {
		input = v.Schemes[0] + "://" + input
	}

	parsedURL, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if !v.schemeAllowed(parsedURL.Scheme) {
		return "", fmt.Errorf("URL must use one of %v", v.Schemes)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if err := v.validateHost(parsedURL.Hostname()); err != nil {
		return "", err
	}
	if strings.Contains(parsedURL.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}

	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	return parsedURL.String(), nil
}

// ValidateHostPort checks a host:port address such as a redis server.
func (v *EndpointValidator) ValidateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("address %q has no port", addr)
	}
	if host == "" {
		return fmt.Errorf("address %q has no host", addr)
	}
	return v.validateHost(host)
}

func (v *EndpointValidator) schemeAllowed(scheme string) bool {
	for _, s := range v.Schemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}

func (v *EndpointValidator) validateHost(hostname string) error {
	if !v.AllowLocalhost && isLocalhost(hostname) {
		return fmt.Errorf("localhost URLs are not permitted")
	}
	ip := net.ParseIP(hostname)
	if !v.AllowPrivateIPs && ip != nil && isPrivateIP(ip) {
		return fmt.Errorf("private IP addresses are not permitted")
	}
	if ip != nil && ip.IsUnspecified() {
		return fmt.Errorf("unspecified address %s", hostname)
	}
	return nil
}

// isLocalhost checks if a hostname refers to localhost
func isLocalhost(hostname string) bool {
	return hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasSuffix(hostname, ".localhost")
}

// isPrivateIP checks if an IP address is loopback, link-local or in a
// private range.
func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}
