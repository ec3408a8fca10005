package edge

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// newOriginProxy forwards requests to the page-rendering origin.
func newOriginProxy(origin string, log *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("server.origin: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("server.origin must be an absolute URL, got %q", origin)
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			// the edge owns these; see securityHeaders
			for _, h := range []string{"X-Powered-By", "X-Frame-Options", "X-Content-Type-Options", "Referrer-Policy"} {
				resp.Header.Del(h)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warn("origin request failed",
				zap.String("path", r.URL.Path),
				zap.String("request_id", r.Header.Get(requestIDHeader)),
				zap.Error(err),
			)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	return rp, nil
}
