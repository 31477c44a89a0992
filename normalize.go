// CLAUDE:SUMMARY Target URL normalization: lowercase scheme/host, remove fragment, sort query params, strip trailing slash.
package guet

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeTargetURL normalizes a target URL so equivalent spellings of
// the same page compare equal across reloads: lowercases scheme and
// host, removes the fragment, strips the trailing slash (except root),
// sorts query params. Only http and https are accepted; the fetcher has
// no other transport. Does NOT upgrade http to https (different
// servers, different resources).
func NormalizeTargetURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty URL", ErrInvalidInput)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidInput)
	}

	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)

	// Remove fragment: it never reaches the server.
	parsed.Fragment = ""

	// Strip trailing slash from path (unless empty/root).
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	// Sort query params by key for stable comparison.
	if parsed.RawQuery != "" {
		params := parsed.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf strings.Builder
		for i, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					buf.WriteByte('&')
				}
				buf.WriteString(url.QueryEscape(k))
				buf.WriteByte('=')
				buf.WriteString(url.QueryEscape(v))
			}
		}
		parsed.RawQuery = buf.String()
	}

	return parsed.String(), nil
}
