package sources

import (
	"net/url"
	"strings"
)

// trackingParams are stripped before deduplication; they vary per click
// without changing the page.
var trackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "msclkid",
	"ref", "source",
}

// NormalizeURL canonicalizes a URL for deduplication: lowercase scheme and
// host, no "www." prefix, no fragment, no tracking query parameters, no
// trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	parsed.Fragment = ""

	if parsed.RawQuery != "" {
		q := parsed.Query()
		for _, param := range trackingParams {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// ExtractDomain returns the lowercase host without port or "www." prefix,
// keeping other subdomains. "https://blog.example.com/x" -> "blog.example.com".
func ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	host := strings.ToLower(parsed.Host)
	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")

	return host, nil
}

// Dedupe removes sources whose normalized URLs repeat, keeping the first
// occurrence. Unparseable URLs are compared verbatim.
func Dedupe(srcs []Source) []Source {
	seen := make(map[string]struct{}, len(srcs))
	out := srcs[:0]
	for _, s := range srcs {
		key := s.URL
		if normalized, err := NormalizeURL(s.URL); err == nil && normalized != "" {
			key = normalized
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
