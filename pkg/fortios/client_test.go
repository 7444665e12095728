package fortios

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/HBNetNetworks/fortinet-wrapper/pkg/httpclient"
)

const (
	testAPIKey     = "G7f1kHzq7nQdzzb56hnpb8HrHfzd0k"
	globalBody     = `{"version":"7.2","serial":"FG100X1234","results":{"hostname":"fw-01"}}`
	interfacesBody = `{"results":[{"name":"port1","ip":"10.0.0.1"}]}`
)

// fakeDevice serves the FortiOS endpoints and counts hits per path.
type fakeDevice struct {
	mu    sync.Mutex
	hits  map[string]int
	fail  bool
	srv   *httptest.Server
	token string
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{hits: make(map[string]int)}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.hits[r.URL.Path]++
	d.token = r.Header.Get("Authorization")
	fail := d.fail
	d.mu.Unlock()

	if r.Header.Get("Accept") != "application/json" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if fail {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
		return
	}

	switch r.URL.Path {
	case "/" + PathSystemGlobal:
		_, _ = w.Write([]byte(globalBody))
	case "/" + PathSystemInterface, "/" + PathSystemInterface + "/port1":
		_, _ = w.Write([]byte(interfacesBody))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}
}

func (d *fakeDevice) count(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[path]
}

func (d *fakeDevice) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDevice) authorization() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

func (d *fakeDevice) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.hits {
		n += c
	}
	return n
}

func TestNewRejectsMissingArguments(t *testing.T) {
	d := newFakeDevice(t)
	var built bool
	transport := func(opts httpclient.Options) httpclient.Client {
		built = true
		return DefaultTransport(opts)
	}

	cases := []struct {
		name    string
		baseURL string
		apiKey  string
		version Version
	}{
		{name: "empty base url", apiKey: testAPIKey, version: Version72},
		{name: "empty api key", baseURL: d.srv.URL, version: Version72},
		{name: "missing version", baseURL: d.srv.URL, apiKey: testAPIKey},
		{name: "unknown version", baseURL: d.srv.URL, apiKey: testAPIKey, version: "6.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(context.Background(), tc.baseURL, tc.apiKey, tc.version, WithTransport(transport))
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if built {
		t.Fatalf("transport must not be built for invalid arguments")
	}
	if n := d.total(); n != 0 {
		t.Fatalf("expected no requests, got %d", n)
	}
}

func TestNewEagerFetchPopulatesHostnameAndSerial(t *testing.T) {
	d := newFakeDevice(t)
	ctx := context.Background()

	c, err := New(ctx, d.srv.URL+"/", testAPIKey, Version72)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := d.count("/" + PathSystemGlobal); got != 1 {
		t.Fatalf("expected 1 global request, got %d", got)
	}
	if got := d.authorization(); got != "Bearer "+testAPIKey {
		t.Fatalf("unexpected authorization header %q", got)
	}

	hostname, err := c.Hostname(ctx)
	if err != nil || hostname != "fw-01" {
		t.Fatalf("hostname=%q err=%v", hostname, err)
	}
	serial, err := c.Serial(ctx)
	if err != nil || serial != "FG100X1234" {
		t.Fatalf("serial=%q err=%v", serial, err)
	}
	fw, err := c.FirmwareVersion(ctx)
	if err != nil || fw != "7.2" {
		t.Fatalf("firmware=%q err=%v", fw, err)
	}
	if got := d.count("/" + PathSystemGlobal); got != 1 {
		t.Fatalf("accessors must reuse the cached global config, got %d requests", got)
	}
}

func TestLazyFetchRequestsOnce(t *testing.T) {
	d := newFakeDevice(t)
	ctx := context.Background()

	c, err := New(ctx, d.srv.URL, testAPIKey, Version74, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.systemGlobal != nil {
		t.Fatalf("expected empty system global after lazy construction")
	}
	if n := d.total(); n != 0 {
		t.Fatalf("expected no requests before first access, got %d", n)
	}

	global, err := c.SystemGlobal(ctx)
	if err != nil {
		t.Fatalf("SystemGlobal: %v", err)
	}
	if global["serial"] != "FG100X1234" {
		t.Fatalf("unexpected global config: %v", global)
	}
	if _, err := c.SystemGlobal(ctx); err != nil {
		t.Fatalf("second SystemGlobal: %v", err)
	}
	if got := d.count("/" + PathSystemGlobal); got != 1 {
		t.Fatalf("expected exactly 1 global request, got %d", got)
	}
}

func TestConcurrentFirstAccessFetchesOnce(t *testing.T) {
	d := newFakeDevice(t)
	ctx := context.Background()

	c, err := New(ctx, d.srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Serial(ctx); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("unexpected failures: %d", failures.Load())
	}
	if got := d.count("/" + PathSystemGlobal); got != 1 {
		t.Fatalf("expected 1 global request under concurrent access, got %d", got)
	}
}

func TestInterfaceListingAndLookup(t *testing.T) {
	d := newFakeDevice(t)
	ctx := context.Background()

	c, err := New(ctx, d.srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	all, err := c.Interface(ctx, "")
	if err != nil {
		t.Fatalf("Interface(all): %v", err)
	}
	if len(all) != 1 || all[0]["name"] != "port1" || all[0]["ip"] != "10.0.0.1" {
		t.Fatalf("unexpected interfaces: %v", all)
	}

	one, err := c.Interface(ctx, "port1")
	if err != nil {
		t.Fatalf("Interface(port1): %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("expected single interface, got %d", len(one))
	}
	if got := d.count("/" + PathSystemInterface + "/port1"); got != 1 {
		t.Fatalf("expected lookup to hit interface/port1, got %d", got)
	}
}

func TestRequestFailuresCarryStatusAndBody(t *testing.T) {
	d := newFakeDevice(t)
	d.setFail(true)
	ctx := context.Background()

	_, err := New(ctx, d.srv.URL, testAPIKey, Version72)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError from eager fetch, got %v", err)
	}
	if reqErr.StatusCode != http.StatusNotFound || reqErr.Body != "not found" {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	if !strings.Contains(err.Error(), "failed to get system global configuration") {
		t.Fatalf("missing context in %q", err)
	}

	c, err := New(ctx, d.srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.SystemGlobal(ctx); !errors.As(err, &reqErr) || reqErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 RequestError, got %v", err)
	}
	if c.systemGlobal != nil {
		t.Fatalf("failed fetch must leave the cache empty")
	}

	_, err = c.Interface(ctx, "port1")
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError from Interface, got %v", err)
	}
	if reqErr.Path != PathSystemInterface+"/port1" || reqErr.Body != "not found" {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	if !strings.Contains(err.Error(), "failed to get interfaces") {
		t.Fatalf("missing context in %q", err)
	}
}

func TestInvalidJSONIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()

	_, err := New(context.Background(), srv.URL, testAPIKey, Version72)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusOK || reqErr.Err == nil {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
}

// recordingTransport captures the options handed to the transport factory.
type recordingTransport struct {
	opts httpclient.Options
}

func (r *recordingTransport) factory(opts httpclient.Options) httpclient.Client {
	r.opts = opts
	return DefaultTransport(opts)
}

func TestVerifySSLIsPassedToTransport(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			t.Errorf("expected TLS request")
		}
		_, _ = w.Write([]byte(globalBody))
	}))
	defer srv.Close()

	rec := &recordingTransport{opts: httpclient.Options{VerifySSL: true}}
	c, err := New(context.Background(), srv.URL, testAPIKey, Version72,
		WithVerifySSL(false), WithTransport(rec.factory))
	if err != nil {
		t.Fatalf("New with self-signed cert and verification off: %v", err)
	}
	if rec.opts.VerifySSL {
		t.Fatalf("expected VerifySSL=false to reach the transport")
	}
	if rec.opts.Timeout != RequestTimeout {
		t.Fatalf("unexpected timeout %v", rec.opts.Timeout)
	}
	if c.VerifySSL() {
		t.Fatalf("client should report verification disabled")
	}

	rec = &recordingTransport{}
	if _, err := New(context.Background(), srv.URL, testAPIKey, Version72, WithTransport(rec.factory)); err == nil {
		t.Fatalf("expected certificate error with verification on")
	}
	if !rec.opts.VerifySSL {
		t.Fatalf("expected VerifySSL to default to true")
	}
}

func TestStringMasksAPIKey(t *testing.T) {
	d := newFakeDevice(t)
	c, err := New(context.Background(), d.srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := c.String()
	if strings.Contains(s, testAPIKey) {
		t.Fatalf("api key leaked in %q", s)
	}
	if !strings.Contains(s, "G7f1****zd0k") {
		t.Fatalf("expected masked key in %q", s)
	}
}

func TestParseVersion(t *testing.T) {
	for in, want := range map[string]Version{"7.2": Version72, "v7.4": Version74, " 7.4 ": Version74} {
		got, err := ParseVersion(in)
		if err != nil || got != want {
			t.Fatalf("ParseVersion(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseVersion("7.0"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

// staticDevice answers every request with body and records the raw request path.
func staticDevice(t *testing.T, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.EscapedPath())
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastPath
}

func TestSystemGlobalReturnsCopy(t *testing.T) {
	d := newFakeDevice(t)
	ctx := context.Background()

	c, err := New(ctx, d.srv.URL, testAPIKey, Version72)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	global, err := c.SystemGlobal(ctx)
	if err != nil {
		t.Fatalf("SystemGlobal: %v", err)
	}
	global["serial"] = "TAMPERED"
	global["results"].(map[string]any)["hostname"] = "TAMPERED"

	if serial, _ := c.Serial(ctx); serial != "FG100X1234" {
		t.Fatalf("serial changed through returned map: %q", serial)
	}
	if hostname, _ := c.Hostname(ctx); hostname != "fw-01" {
		t.Fatalf("hostname changed through returned map: %q", hostname)
	}
	again, _ := c.SystemGlobal(ctx)
	if again["serial"] != "FG100X1234" {
		t.Fatalf("cached global config was modified: %v", again)
	}
}

func TestDerivedFieldsEmptyWhenMissingOrMistyped(t *testing.T) {
	ctx := context.Background()
	for name, body := range map[string]string{
		"missing":  `{"version":"7.2"}`,
		"mistyped": `{"serial":1234,"results":["fw-01"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := staticDevice(t, body)
			c, err := New(ctx, srv.URL, testAPIKey, Version72)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			hostname, err := c.Hostname(ctx)
			if err != nil || hostname != "" {
				t.Fatalf("hostname=%q err=%v", hostname, err)
			}
			serial, err := c.Serial(ctx)
			if err != nil || serial != "" {
				t.Fatalf("serial=%q err=%v", serial, err)
			}
		})
	}
}

func TestTransportFailureIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(context.Background(), url, testAPIKey, Version72)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != 0 || reqErr.Err == nil {
		t.Fatalf("expected status 0 with cause, got %+v", reqErr)
	}
	if reqErr.Path != PathSystemGlobal {
		t.Fatalf("unexpected path %q", reqErr.Path)
	}
}

func TestInterfaceRejectsMalformedResults(t *testing.T) {
	ctx := context.Background()
	for name, body := range map[string]string{
		"results object":     `{"results":{"name":"port1"}}`,
		"results missing":    `{"status":"success"}`,
		"non-object element": `{"results":[{"name":"port1"},"port2"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := staticDevice(t, body)
			c, err := New(ctx, srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Interface(ctx, "")
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %v", err)
			}
			if reqErr.StatusCode != http.StatusOK || reqErr.Path != PathSystemInterface {
				t.Fatalf("unexpected request error: %+v", reqErr)
			}
		})
	}
}

func TestInterfaceNameIsPathEscaped(t *testing.T) {
	ctx := context.Background()
	srv, lastPath := staticDevice(t, interfacesBody)
	c, err := New(ctx, srv.URL, testAPIKey, Version72, WithFetchGlobal(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Interface(ctx, "a/b"); err != nil {
		t.Fatalf("Interface: %v", err)
	}
	if got, want := lastPath.Load(), "/"+PathSystemInterface+"/a%2Fb"; got != want {
		t.Fatalf("expected path %q, got %v", want, got)
	}
}
