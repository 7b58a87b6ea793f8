package vocu

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

var (
	// ErrAPIKeyEmpty indicates that a session cannot be authenticated.
	ErrAPIKeyEmpty = errors.New("api key cannot be empty")
	// ErrBaseURLInvalid indicates that the service base URL cannot be parsed.
	ErrBaseURLInvalid = errors.New("base url must be an absolute http(s) url")
)

// Session is one authenticated connection pool to the service.
type Session struct {
	httpClient *http.Client
	closed     atomic.Bool
}

// Do sends req through the session.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	return s.httpClient.Do(req)
}

// Close releases idle connections. A closed session rejects further requests.
func (s *Session) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.httpClient.CloseIdleConnections()
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// SessionManager owns the single reusable session shared by every component.
// The session is built on first use and rebuilt if it was closed.
type SessionManager struct {
	mu      sync.Mutex
	session *Session
	apiHost string
	apiKey  string
	proxy   *url.URL
	created int
}

// NewSessionManager validates the connection settings without opening anything.
// An empty proxy means the environment proxy settings apply.
func NewSessionManager(baseURL, apiKey, proxy string) (*SessionManager, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrBaseURLInvalid, baseURL)
	}

	manager := &SessionManager{
		apiHost: base.Host,
		apiKey:  apiKey,
	}

	if proxy != "" {
		proxyURL, proxyErr := url.Parse(proxy)
		if proxyErr != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", proxy, proxyErr)
		}

		manager.proxy = proxyURL
	}

	return manager, nil
}

// Session returns the open session, creating a new one when none exists or
// the previous one was closed.
func (m *SessionManager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.Closed() {
		m.session = m.newSession()
		m.created++
	}

	return m.session
}

// Do sends req on the current session.
func (m *SessionManager) Do(req *http.Request) (*http.Response, error) {
	return m.Session().Do(req)
}

// Close shuts the current session down. The next call to Session opens a new one.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Close()
	}
}

// sessionsCreated reports how many sessions were built so far.
func (m *SessionManager) sessionsCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.created
}

func (m *SessionManager) newSession() *Session {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if ok {
		transport = transport.Clone()
	} else {
		transport = &http.Transport{}
	}

	if m.proxy != nil {
		transport.Proxy = http.ProxyURL(m.proxy)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &Session{
		httpClient: &http.Client{
			Transport: &authTransport{
				base:    transport,
				apiHost: m.apiHost,
				token:   bearerPrefix + m.apiKey,
			},
		},
	}
}

// authTransport attaches the bearer token to requests bound for the API host
// only, so media CDNs never see the key.
type authTransport struct {
	base    http.RoundTripper
	apiHost string
	token   string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.apiHost {
		return t.base.RoundTrip(req)
	}

	authorized := req.Clone(req.Context())
	authorized.Header.Set(headerAuthorization, t.token)

	return t.base.RoundTrip(authorized)
}
