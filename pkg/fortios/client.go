package fortios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HBNetNetworks/fortinet-wrapper/pkg/httpclient"
)

// RequestTimeout bounds every call to the device API.
const RequestTimeout = 10 * time.Second

// TransportFactory builds the HTTP transport used by a Client.
type TransportFactory func(opts httpclient.Options) httpclient.Client

// DefaultTransport returns the resty-backed transport.
func DefaultTransport(opts httpclient.Options) httpclient.Client {
	return httpclient.NewRestyClient(opts)
}

// Client represents a single FortiOS device. All API calls are read-only GETs.
type Client struct {
	baseURL   string
	apiKey    string
	version   Version
	verifySSL bool
	headers   map[string]string
	http      httpclient.Client
	log       Logger

	mu           sync.Mutex
	systemGlobal map[string]any
}

type settings struct {
	verifySSL   bool
	fetchGlobal bool
	transport   TransportFactory
	log         Logger
}

// Option customizes a Client at construction.
type Option func(*settings)

// WithVerifySSL toggles certificate validation. Defaults to true.
func WithVerifySSL(verify bool) Option {
	return func(s *settings) { s.verifySSL = verify }
}

// WithFetchGlobal controls whether New fetches the system global
// configuration before returning. Defaults to true.
func WithFetchGlobal(fetch bool) Option {
	return func(s *settings) { s.fetchGlobal = fetch }
}

// WithTransport replaces the HTTP transport factory.
func WithTransport(f TransportFactory) Option {
	return func(s *settings) {
		if f != nil {
			s.transport = f
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(log Logger) Option {
	return func(s *settings) { s.log = log }
}

// New validates the connection parameters and returns a Client. Unless
// WithFetchGlobal(false) is given, the system global configuration is
// fetched immediately and a failure there fails construction.
func New(ctx context.Context, baseURL, apiKey string, version Version, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidArgument)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidArgument)
	}
	if version == "" {
		return nil, fmt.Errorf("%w: FortiOS version is required", ErrInvalidArgument)
	}
	if !version.Valid() {
		return nil, fmt.Errorf("%w: unsupported FortiOS version %q", ErrInvalidArgument, version)
	}

	s := settings{
		verifySSL:   true,
		fetchGlobal: true,
		transport:   DefaultTransport,
	}
	for _, opt := range opts {
		opt(&s)
	}

	c := &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		version:   version,
		verifySSL: s.verifySSL,
		headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": "Bearer " + apiKey,
		},
		http: s.transport(httpclient.Options{Timeout: RequestTimeout, VerifySSL: s.verifySSL}),
		log:  ensureLogger(s.log),
	}

	if s.fetchGlobal {
		if _, err := c.cachedGlobal(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// doGet performs a GET against {baseURL}/{path} and decodes the JSON object body.
func (c *Client) doGet(ctx context.Context, path string, query map[string]string) (map[string]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := c.http.Get(ctx, c.baseURL+"/"+path, c.headers, query)
	if err != nil {
		return nil, &RequestError{Path: path, Err: err}
	}

	body := resp.Body()
	c.log.DebugObj("fortios request completed", "fortios_request", map[string]any{
		"device": c.baseURL,
		"path":   path,
		"status": resp.StatusCode(),
	})
	if resp.StatusCode() != http.StatusOK {
		return nil, &RequestError{Path: path, StatusCode: resp.StatusCode(), Body: string(body)}
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{Path: path, StatusCode: resp.StatusCode(), Body: string(body), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out == nil {
		return nil, &RequestError{Path: path, StatusCode: resp.StatusCode(), Body: string(body), Err: fmt.Errorf("response is not a JSON object")}
	}
	return out, nil
}

// fetchSystemGlobal must be called with c.mu held.
func (c *Client) fetchSystemGlobal(ctx context.Context) error {
	global, err := c.doGet(ctx, PathSystemGlobal, nil)
	if err != nil {
		return fmt.Errorf("failed to get system global configuration: %w", err)
	}
	c.systemGlobal = global
	return nil
}

// SystemGlobal returns a copy of the device's global configuration,
// fetching it on first use. Once fetched it is never refreshed.
func (c *Client) SystemGlobal(ctx context.Context) (map[string]any, error) {
	global, err := c.cachedGlobal(ctx)
	if err != nil {
		return nil, err
	}
	return cloneMap(global), nil
}

// cachedGlobal returns the cached map itself; callers must not modify it.
func (c *Client) cachedGlobal(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.systemGlobal) == 0 {
		if err := c.fetchSystemGlobal(ctx); err != nil {
			return nil, err
		}
	}
	return c.systemGlobal, nil
}

// Hostname returns results.hostname from the global configuration.
func (c *Client) Hostname(ctx context.Context) (string, error) {
	global, err := c.cachedGlobal(ctx)
	if err != nil {
		return "", err
	}
	results, _ := global["results"].(map[string]any)
	return stringField(results, "hostname"), nil
}

// Serial returns the device serial number.
func (c *Client) Serial(ctx context.Context) (string, error) {
	global, err := c.cachedGlobal(ctx)
	if err != nil {
		return "", err
	}
	return stringField(global, "serial"), nil
}

// FirmwareVersion returns the firmware version the device reports, e.g. "v7.2.8".
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	global, err := c.cachedGlobal(ctx)
	if err != nil {
		return "", err
	}
	return stringField(global, "version"), nil
}

// Interface returns the named interface, or every interface when name is empty.
func (c *Client) Interface(ctx context.Context, name string) ([]map[string]any, error) {
	path := PathSystemInterface
	if name != "" {
		path += "/" + url.PathEscape(name)
	}

	resp, err := c.doGet(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get interfaces: %w", err)
	}

	raw, ok := resp["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("failed to get interfaces: %w", &RequestError{
			Path:       path,
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("results is %T, expected array", resp["results"]),
		})
	}

	out := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("failed to get interfaces: %w", &RequestError{
				Path:       path,
				StatusCode: http.StatusOK,
				Err:        fmt.Errorf("results[%d] is %T, expected object", i, item),
			})
		}
		out = append(out, obj)
	}
	return out, nil
}

// BaseURL returns the device API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Version returns the configured FortiOS release line.
func (c *Client) Version() Version { return c.version }

// VerifySSL reports whether certificate validation is enforced.
func (c *Client) VerifySSL() bool { return c.verifySSL }

// String returns a representation of the client safe for logs.
func (c *Client) String() string {
	return fmt.Sprintf("FortiOS{base_url: %s, version: %s, api_key: %s}", c.baseURL, c.version, maskToken(c.apiKey))
}

// maskToken shows the first and last 4 chars of a token.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

// cloneMap deep-copies decoded JSON so callers cannot reach the cache.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
