// Package vocu implements a client for the Vocu text-to-speech service.
//
// The Client shares one authenticated session across the role registry, the
// generation engine and the history retriever. Every response is normalized
// through the service envelope before any payload field is read, so callers
// see one error taxonomy: RemoteError, ErrMalformedResponse and the sentinel
// errors declared in errors.go.
package vocu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/book-expert/vocu-service/internal/config"
	"github.com/book-expert/vocu-service/internal/telemetry"
)

// Default values.
const (
	defaultBaseURL        = "https://v1.vocu.ai"
	defaultRequestTimeout = 60 * time.Second
	defaultPollInterval   = 3 * time.Second
	defaultPromptID       = "default"
)

// Span naming.
const (
	spanPrefix     = "vocu."
	attrHTTPMethod = "http.request.method"
	attrURLPath    = "url.path"
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	APIKey          string
	Proxy           string
	Mode            Mode
	DefaultPromptID string
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	// GenerateTimeout bounds a whole Generate call. Zero means no deadline.
	GenerateTimeout time.Duration
	// Sleeper waits between async polls. Nil uses a context-aware timer.
	Sleeper  Sleeper
	Recorder *telemetry.Recorder
}

// Client talks to the Vocu API.
type Client struct {
	sessions *SessionManager
	baseURL  string
	opts     Options
	logger   *logger.Logger
	recorder *telemetry.Recorder

	rolesMu sync.RWMutex
	roles   []Role

	historyMu sync.RWMutex
	histories []HistoryRecord
}

// NewClient creates a client. No connection is opened until the first call.
func NewClient(opts Options, log *logger.Logger) (*Client, error) {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}

	if opts.Mode == "" {
		opts.Mode = ModeAsync
	}

	if !opts.Mode.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, opts.Mode)
	}

	if opts.DefaultPromptID == "" {
		opts.DefaultPromptID = defaultPromptID
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	if opts.Sleeper == nil {
		opts.Sleeper = contextSleep
	}

	sessions, err := NewSessionManager(opts.BaseURL, opts.APIKey, opts.Proxy)
	if err != nil {
		return nil, err
	}

	return &Client{
		sessions: sessions,
		baseURL:  opts.BaseURL,
		opts:     opts,
		logger:   log,
		recorder: opts.Recorder,
	}, nil
}

// NewClientFromConfig creates a client from the [vocu] config section.
func NewClientFromConfig(cfg config.VocuConfig, log *logger.Logger, recorder *telemetry.Recorder) (*Client, error) {
	return NewClient(Options{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Proxy:           cfg.Proxy,
		Mode:            Mode(cfg.RequestType),
		DefaultPromptID: cfg.DefaultPromptID,
		RequestTimeout:  cfg.RequestTimeout(),
		PollInterval:    cfg.PollInterval(),
		GenerateTimeout: cfg.GenerateTimeout(),
		Sleeper:         nil,
		Recorder:        recorder,
	}, log)
}

// Sessions exposes the shared session manager so other components, such as
// the media downloader, reuse the same transport.
func (c *Client) Sessions() *SessionManager {
	return c.sessions
}

// Close shuts the shared session down.
func (c *Client) Close() error {
	c.sessions.Close()

	return nil
}

// call performs one API request and returns the normalized envelope.
func (c *Client) call(
	ctx context.Context,
	endpoint, method, path string,
	query url.Values,
	body any,
) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, spanPrefix+endpoint,
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrURLPath, path),
	)

	env, err := c.roundTrip(ctx, method, path, query, body)
	c.recorder.Request(ctx, endpoint, telemetry.Outcome(err))
	telemetry.EndSpan(span, err)

	return env, err
}

func (c *Client) roundTrip(
	ctx context.Context,
	method, path string,
	query url.Values,
	body any,
) (*envelope, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf(errFmtMarshalRequest, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.sessions.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtRequestFailed, method, path, err)
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp)
}
