package httpclient

import (
	"context"
	"time"
)

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers, query map[string]string) (Response, error)
}

// Options configures a transport built by NewRestyClient.
type Options struct {
	Timeout time.Duration
	// VerifySSL enforces certificate validation. When false the TLS handshake
	// still happens, only the peer certificate is not checked.
	VerifySSL bool
}
