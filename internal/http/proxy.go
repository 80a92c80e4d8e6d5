package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/iqss/dataverse-int/internal/config"
	"github.com/iqss/dataverse-int/internal/constants"
)

// apiClientTimeout bounds a whole request/response exchange with the
// Dataverse API. Storage transfers clear it (see CreateOptimizedClient).
const apiClientTimeout = 300 * time.Second

func newTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// ConfigureHTTPClient builds an HTTP client honouring the proxy settings.
// warmupURL is the Dataverse server; it is only contacted when px.Warmup is set.
func ConfigureHTTPClient(px config.ProxyConfig, warmupURL string) (*nethttp.Client, error) {
	transport := newTransport()
	mode := strings.ToLower(px.Mode)

	var client *nethttp.Client
	switch mode {
	case "no-proxy", "":
		transport.Proxy = nil
		client = &nethttp.Client{Transport: transport, Timeout: apiClientTimeout}

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment
		client = &nethttp.Client{Transport: transport, Timeout: apiClientTimeout}

	case "ntlm", "basic":
		// Incomplete saved config: fall back so the user can still run 'config init'.
		if px.Host == "" {
			log.Warn().Str("mode", mode).Msg("proxy host is missing, falling back to no-proxy mode")
			transport.Proxy = nil
			return &nethttp.Client{Transport: transport, Timeout: apiClientTimeout}, nil
		}

		transport.Proxy = proxyFuncWithBypass(buildProxyURL(px), px.NoProxy)

		if mode == "ntlm" {
			client = &nethttp.Client{
				Transport: ntlmssp.Negotiator{RoundTripper: transport},
				Timeout:   apiClientTimeout,
			}
		} else {
			if px.User != "" && px.Password == "" {
				log.Warn().Msg("proxy user configured but password missing, proxy auth disabled until password is set")
			}
			client = &nethttp.Client{Transport: transport, Timeout: apiClientTimeout}
		}

		// Skip warmup when the password is missing; the caller prompts for it.
		if px.User == "" || px.Password == "" {
			return client, nil
		}

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", px.Mode)
	}

	if px.Warmup && mode != "no-proxy" && mode != "" {
		if err := warmupProxy(client, warmupURL); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}

	return client, nil
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(px config.ProxyConfig) *url.URL {
	port := px.Port
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(px.Host, fmt.Sprintf("%d", port)),
	}

	// Empty password in the URL causes auth failures with some proxies
	if px.User != "" && px.Password != "" {
		proxyURL.User = url.UserPassword(px.User, px.Password)
	}

	return proxyURL
}

// warmupProxy performs one request so NTLM/basic handshakes happen up front.
func warmupProxy(client *nethttp.Client, serverURL string) error {
	if serverURL == "" {
		return fmt.Errorf("no server URL to warm up against")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, "GET", strings.TrimRight(serverURL, "/")+"/api/info/version", nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}

	return nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// With an empty noProxy it behaves like nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			log.Debug().Str("host", req.URL.Host).Msg("proxy bypass")
		}
		return result, err
	}
}

// NeedsProxyPassword reports whether the CLI must prompt for a proxy password.
func NeedsProxyPassword(px config.ProxyConfig) bool {
	mode := strings.ToLower(px.Mode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return px.User != "" && px.Password == ""
}
