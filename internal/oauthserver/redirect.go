package oauthserver

import (
	"net"
	"net/url"
	"strings"
)

// matchesRedirectURI reports whether requested is an acceptable redirect for
// a client registered with registeredURIs, applying RFC 8252 §7.3 loopback
// matching (the port may vary for 127.0.0.1 / [::1] / localhost) in addition
// to exact matches. Adapted from stacklok-toolhive's
// pkg/authserver/client.go LoopbackClient.MatchRedirectURI.
func matchesRedirectURI(requested string, registeredURIs []string) bool {
	for _, registered := range registeredURIs {
		if requested == registered {
			return true
		}
		if matchesAsLoopback(requested, registered) {
			return true
		}
	}
	return false
}

func matchesAsLoopback(requestedURI, registeredURI string) bool {
	requested, err := url.Parse(requestedURI)
	if err != nil {
		return false
	}
	registered, err := url.Parse(registeredURI)
	if err != nil {
		return false
	}
	if requested.Scheme != "http" || registered.Scheme != "http" {
		return false
	}
	if !isLoopbackHost(requested.Hostname()) || !isLoopbackHost(registered.Hostname()) {
		return false
	}
	if !strings.EqualFold(requested.Hostname(), registered.Hostname()) {
		return false
	}
	if requested.Path != registered.Path || requested.RawQuery != registered.RawQuery {
		return false
	}
	return true
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}
