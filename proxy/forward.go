package proxy

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// Relay forwards vetted requests to a caller-selected upstream base URL.
// Callers are expected to run the URL through urlcheck first; Relay does no
// policy of its own.
type Relay struct {
	transport http.RoundTripper
}

func NewRelay(timeout time.Duration) *Relay {
	return &Relay{
		transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
		},
	}
}

// Forward proxies the request to the upstream base URL and reports whether
// the upstream answered, so callers can refund quota on dial failure.
func (r *Relay) Forward(w http.ResponseWriter, req *http.Request, baseURL string) (bool, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return false, err
	}

	upstreamFailed := false
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = r.transport

	p.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Set("X-Relay", "abuse-gate")
		return nil
	}

	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		upstreamFailed = true
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error": "upstream unavailable"}`))
	}

	req.Host = target.Host
	p.ServeHTTP(w, req)
	return !upstreamFailed, nil
}
