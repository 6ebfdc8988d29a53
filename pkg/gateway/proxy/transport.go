// Package proxy relays gateway requests to backend services: it composes the
// backend URL, injects the caller's username and the service secret, relays
// form payloads and copies the backend's reply back unchanged.
package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"

	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
)

// Clients holds one HTTP client per backend service.
type Clients struct {
	byService map[string]*http.Client
	fallback  *http.Client
}

// NewClients builds a client for every configured service. timeout bounds
// each call when positive.
func NewClients(services []gatewayconfig.ServiceConfig, timeout time.Duration) (*Clients, error) {
	clients := &Clients{
		byService: make(map[string]*http.Client, len(services)),
		fallback:  &http.Client{Timeout: timeout},
	}
	for _, svc := range services {
		transport, err := NewTransport(svc.TLS)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		clients.byService[svc.Name] = &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// Redirects are relayed to the caller rather than followed.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return clients, nil
}

// For returns the client for service.
func (c *Clients) For(service string) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	if client, ok := c.byService[service]; ok {
		return client
	}
	return c.fallback
}

// CloseIdleConnections releases pooled connections of every client.
func (c *Clients) CloseIdleConnections() {
	if c == nil {
		return
	}
	for _, client := range c.byService {
		client.CloseIdleConnections()
	}
}

// NewTransport builds an HTTP/2 capable transport honouring the service's
// TLS settings. Certificates are verified unless InsecureSkipVerify is set.
func NewTransport(cfg gatewayconfig.TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if cfg.Enabled {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second

	return transport, nil
}

func buildTLSConfig(cfg gatewayconfig.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in only
	}

	if cfg.CAFile != "" {
		data, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %q: %w", cfg.CAFile, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse CA bundle %q: %w", cfg.CAFile, errInvalidPEM)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.ClientCertFile != "" || cfg.ClientKeyFile != "" {
		if cfg.ClientCertFile == "" || cfg.ClientKeyFile == "" {
			return nil, errors.New("client certificate and key must both be provided")
		}

		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

var errInvalidPEM = errors.New("invalid PEM block")
