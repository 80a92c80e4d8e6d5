package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/constants"
)

// CreateOptimizedClient creates the client used for part transfers to
// object storage. It starts from ConfigureHTTPClient so storage traffic
// honours the same proxy settings as API calls, then:
//   - widens the connection pool for parallel parts
//   - disables compression
//   - enables HTTP/2 unless a proxy is active or DISABLE_HTTP2=true
//   - clears the client timeout; each part is bounded by its context
func CreateOptimizedClient(px *config.ProxyConfig) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if px != nil {
		p := *px
		p.Warmup = false
		baseClient, err = ConfigureHTTPClient(p, "")
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: newTransport()}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport; leave it alone.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout

	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(px) && os.Getenv("FORCE_HTTP2") != "true") {
		// Proxies often break HTTP/2 streams mid-transfer.
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0

	return baseClient, nil
}

func proxyActive(px *config.ProxyConfig) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if px == nil {
		return envProxy
	}
	switch px.Mode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return true
	}
}
