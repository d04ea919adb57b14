package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// StreamingTransport returns an http.Transport with TLS hardening for
// long-lived streaming responses. Only connection setup and the wait for
// response headers are bounded; body reads are not.
func StreamingTransport(connectTimeout, responseHeaderTimeout time.Duration) *http.Transport {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// StreamingHTTPClient returns an http.Client without a total timeout.
// Cancellation comes from the request context.
func StreamingHTTPClient(connectTimeout, responseHeaderTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: StreamingTransport(connectTimeout, responseHeaderTimeout),
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening and a total timeout.
// Used for short probes such as backend reachability checks.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: StreamingTransport(timeout, timeout),
	}
}
