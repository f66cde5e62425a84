package nfce

import (
	"fmt"
	"net/url"
	"strings"
)

// JurisdictionFromURL extracts the two-digit jurisdiction code from the
// access-key parameter `p` embedded in a lookup URL. The parameter
// value is pipe-delimited with the access key first; its leading two
// digits identify the issuing state.
func JurisdictionFromURL(raw string) (string, error) {
	key := accessKeyParam(raw)
	if key == "" {
		return "", fmt.Errorf("%w: missing 'p' parameter in url", ErrInvalidInput)
	}
	code := strings.SplitN(key, "|", 2)[0]
	if len(code) < 2 {
		return "", fmt.Errorf("%w: access key %q too short", ErrInvalidInput, key)
	}
	return code[:2], nil
}

// NormalizeURL canonicalizes a submitted lookup URL: trims whitespace,
// validates parseability and requires an http(s) scheme and host.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidInput)
	}
	return u.String(), nil
}

// accessKeyParam pulls the raw `p` value. SEFAZ portals are
// inconsistent about escaping the pipe separators, so a plain
// substring split backs up the query parser.
func accessKeyParam(raw string) string {
	if u, err := url.Parse(strings.TrimSpace(raw)); err == nil {
		if v := u.Query().Get("p"); v != "" {
			return v
		}
	}
	_, after, found := strings.Cut(raw, "p=")
	if !found {
		return ""
	}
	if i := strings.IndexAny(after, "&#"); i >= 0 {
		after = after[:i]
	}
	return after
}
