package llm

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/retry"
)

// maxResponseLogBytes is the max length of a provider response body to log in full (to avoid huge logs).
const maxResponseLogBytes = 8192

// httpClientFor returns an http.Client that sends through the retrying client,
// optionally rewriting URLs to baseEndpoint (e.g. http://host.docker.internal:31300/gemini)
// and adding a fixed header to every request.
func httpClientFor(policy retry.Policy, baseEndpoint, headerName, headerValue string) *http.Client {
	var next http.RoundTripper = http.DefaultTransport
	if baseEndpoint != "" {
		if base, err := url.Parse(baseEndpoint); err != nil || base.Host == "" {
			log.Warn().Err(err).Str("endpoint", baseEndpoint).Msg("Invalid API endpoint override, using default")
		} else {
			base.Path = strings.TrimSuffix(base.Path, "/")
			next = &endpointRoundTripper{base: base, next: next}
		}
	}

	var rt http.RoundTripper = retry.NewClient(policy, next)
	if headerName != "" && headerValue != "" {
		rt = &headerRoundTripper{name: headerName, value: headerValue, next: rt}
	}
	return &http.Client{Transport: rt}
}

// endpointRoundTripper rewrites request URLs to a custom base (scheme, host, path prefix).
type endpointRoundTripper struct {
	base *url.URL
	next http.RoundTripper
}

func (e *endpointRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.URL.Scheme = e.base.Scheme
	req2.URL.Host = e.base.Host
	req2.URL.Path = path.Join("/", e.base.Path, req.URL.Path)
	req2.URL.RawPath = ""
	if req.URL.RawQuery != "" {
		req2.URL.RawQuery = req.URL.RawQuery
	}
	req2.Host = ""
	return e.next.RoundTrip(req2)
}

// headerRoundTripper sets a credential header that an SDK drops once a custom
// http.Client is supplied.
type headerRoundTripper struct {
	name  string
	value string
	next  http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(h.name) != "" {
		return h.next.RoundTrip(req)
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set(h.name, h.value)
	return h.next.RoundTrip(req2)
}

// logResponse logs provider response text, truncating if over maxResponseLogBytes.
func logResponse(provider, caller, raw string) {
	if len(raw) <= maxResponseLogBytes {
		log.Debug().Str("provider", provider).Str("caller", caller).Str("response", raw).Msg("Provider response")
		return
	}
	log.Debug().
		Str("provider", provider).
		Str("caller", caller).
		Str("response", raw[:maxResponseLogBytes]+"... [truncated]").
		Int("response_len", len(raw)).
		Msg("Provider response")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
