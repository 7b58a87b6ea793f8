package vocu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

// recordedRequest is what fakeService saw for one call.
type recordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Body          map[string]any
}

// fakeService is an in-process stand-in for the Vocu API. Handlers are keyed
// by "METHOD /path" and return the JSON envelope to send.
type fakeService struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]func(r *http.Request) any
	requests []recordedRequest
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	fake := &fakeService{t: t, handlers: make(map[string]func(r *http.Request) any)}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.server.Close)

	return fake
}

func (f *fakeService) handle(method, path string, handler func(r *http.Request) any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handlers[method+" "+path] = handler
}

// reply registers a handler that always returns payload.
func (f *fakeService) reply(method, path string, payload any) {
	f.handle(method, path, func(*http.Request) any { return payload })
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	recorded := recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get(headerAuthorization),
	}

	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&recorded.Body)
	}

	f.mu.Lock()
	f.requests = append(f.requests, recorded)
	handler, ok := f.handlers[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)

		return
	}

	w.Header().Set(headerContentType, contentTypeJSON)
	_ = json.NewEncoder(w).Encode(handler(r))
}

func (f *fakeService) calls(method, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []recordedRequest

	for _, req := range f.requests {
		if req.Method == method && req.Path == path {
			matched = append(matched, req)
		}
	}

	return matched
}

func (f *fakeService) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedRequest(nil), f.requests...)
}

func success(data any) map[string]any {
	return map[string]any{"status": 200, "message": "OK", "data": data}
}

func failure(status int, message string) map[string]any {
	return map[string]any{"status": status, "message": message}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "vocu-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// noSleep counts poll waits without blocking.
type noSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()

	return ctx.Err()
}

func newTestClient(t *testing.T, fake *fakeService, mutate func(*Options)) *Client {
	t.Helper()

	opts := Options{
		BaseURL:        fake.server.URL,
		APIKey:         testAPIKey,
		Mode:           ModeAsync,
		RequestTimeout: 5 * time.Second,
		PollInterval:   3 * time.Second,
	}

	if mutate != nil {
		mutate(&opts)
	}

	client, err := NewClient(opts, newTestLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client
}
