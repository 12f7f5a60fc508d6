// Package validate checks operator-supplied URLs and addresses before the
// host uses them.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// HTTPURL ensures rawURL uses the http or https scheme and names a host.
func HTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "":
		return fmt.Errorf("URL missing scheme: %s", rawURL)
	default:
		return fmt.Errorf("URL scheme %q not allowed (only http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %s", rawURL)
	}
	return nil
}

// Origin validates one entry of a browser origin allow list: "*" or a
// scheme://host[:port] without path, query, or fragment.
func Origin(origin string) error {
	if origin == "*" {
		return nil
	}
	if err := HTTPURL(origin); err != nil {
		return err
	}
	u, _ := url.Parse(origin)
	if strings.TrimRight(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("origin %q must not carry a path, query, or fragment", origin)
	}
	return nil
}

// IPOrCIDR accepts a single IP address or a CIDR block.
func IPOrCIDR(entry string) error {
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid CIDR %q", entry)
		}
		return nil
	}
	if net.ParseIP(entry) == nil {
		return fmt.Errorf("invalid IP address %q", entry)
	}
	return nil
}
