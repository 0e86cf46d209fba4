package proxy

import (
	"net/http"
	"strings"

	"github.com/greyhawk/ocular/pkg/models"
)

// hopByHopHeaders are always dropped before forwarding. proxy- is
// matched as a prefix below since it names a class ("Proxy-Authorization"
// etc.), not one header.
var hopByHopHeaders = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"transfer-encoding":  true,
	"upgrade":           true,
	"te":                true,
	"trailer":           true,
}

// prepareUpstreamHeaders applies a BackendRoute's header policy to the
// incoming request headers, always stripping hop-by-hop headers first.
// The connection's actual target host comes from the upstream URL the
// caller builds separately; the Host entry set here only travels along
// in the header map for logging and informational purposes; Go's
// transport reads the real Host from the request URL, not this map.
func prepareUpstreamHeaders(src http.Header, route models.BackendRoute, upstreamHost string) http.Header {
	out := make(http.Header)
	for k, vals := range src {
		lk := strings.ToLower(k)
		if hopByHopHeaders[lk] || strings.HasPrefix(lk, "proxy-") {
			continue
		}
		out[k] = append([]string(nil), vals...)
	}

	switch route.HeaderPolicy {
	case models.HeaderStripAuthHostRewrite:
		out.Del("Authorization")
		out.Del("X-Api-Key")
		if route.Settings.UpstreamAPIKey != "" {
			out.Set("Authorization", "Bearer "+route.Settings.UpstreamAPIKey)
		}
	case models.HeaderCustom:
		for k, v := range route.Settings.CustomHeaders {
			out.Set(k, v)
		}
	case models.HeaderPassThrough:
		// incoming headers (x-api-key, anthropic-*, etc.) forwarded as-is
	}

	out.Set("Host", upstreamHost)
	return out
}

// filterResponseHeaders drops hop-by-hop headers from an upstream
// response, and drops Content-Length/Content-Encoding when the body
// will be rewritten by the streaming restorer (the client must see the
// final, possibly different, byte length, and any compression must be
// removed since restoration operates on plain text).
func filterResponseHeaders(src http.Header, bodyWillBeTransformed bool) http.Header {
	out := make(http.Header)
	for k, vals := range src {
		lk := strings.ToLower(k)
		if hopByHopHeaders[lk] || strings.HasPrefix(lk, "proxy-") {
			continue
		}
		if bodyWillBeTransformed && (lk == "content-length" || lk == "content-encoding") {
			continue
		}
		out[k] = append([]string(nil), vals...)
	}
	return out
}
