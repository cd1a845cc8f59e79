package coordinator

import (
	"net"
	"net/url"
	"strings"
	"unicode"
)

// NormalizeURL checks that raw looks like a web URL and returns it with an explicit scheme.
// Input without a scheme is treated as http.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &InvalidInputError{Reason: "URL is empty"}
	}

	if strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
		return "", &InvalidInputError{Input: raw, Reason: "URL contains whitespace"}
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", &InvalidInputError{Input: raw, Reason: "URL cannot be parsed", Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		u.Scheme = strings.ToLower(u.Scheme)
	default:
		return "", &InvalidInputError{Input: raw, Reason: "unsupported scheme " + u.Scheme}
	}

	if !validHost(u.Hostname()) {
		return "", &InvalidInputError{Input: raw, Reason: "invalid host"}
	}

	return u.String(), nil
}

func validHost(host string) bool {
	if host == "" {
		return false
	}

	if strings.EqualFold(host, "localhost") || net.ParseIP(host) != nil {
		return true
	}

	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) < 2 {
		return false
	}

	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}

	tld := labels[len(labels)-1]
	if strings.HasPrefix(strings.ToLower(tld), "xn--") {
		return true
	}

	if len(tld) < 2 {
		return false
	}

	for _, r := range tld {
		if !unicode.IsLetter(r) {
			return false
		}
	}

	return true
}

func validLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}

	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}

	for _, r := range label {
		if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}

	return true
}
