// Package endpoint contains pure functions for turning raw endpoint queries
// into a reachable dashboard URL. The gateway runs the queries; this package
// only interprets their output.
package endpoint

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnresolved means the cluster has not published a reachable address for
// the dashboard yet. Callers report this as a deployment failure rather than
// printing a placeholder address.
var ErrUnresolved = errors.New("dashboard endpoint is not resolved yet")

// placeholders kubectl renders for absent values in table output. jsonpath
// output is normally empty, but tolerate both.
var placeholders = map[string]bool{
	"":          true,
	"<none>":    true,
	"<pending>": true,
}

// FromServiceURL picks the dashboard URL out of `minikube service --url`
// output. The command prints one URL per exposed port, possibly mixed with
// progress lines; the first parseable URL wins.
func FromServiceURL(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			continue
		}
		parsed, err := url.Parse(line)
		if err != nil || parsed.Host == "" {
			continue
		}
		return parsed.String(), nil
	}
	return "", ErrUnresolved
}

// FromLoadBalancer builds the dashboard URL from load balancer ingress
// queries. The IP takes precedence; the hostname is the fallback for
// providers that only publish DNS names. When neither is populated the
// address is still pending and the endpoint is unresolved.
func FromLoadBalancer(ip, hostname string, port uint32) (string, error) {
	host := strings.TrimSpace(ip)
	if placeholders[host] {
		host = strings.TrimSpace(hostname)
	}
	if placeholders[host] {
		return "", ErrUnresolved
	}

	if port == 0 || port == 80 {
		return fmt.Sprintf("http://%s", host), nil
	}
	return fmt.Sprintf("http://%s:%d", host, port), nil
}
