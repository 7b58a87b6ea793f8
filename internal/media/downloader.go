// Package media downloads generated audio into a content-addressed local cache.
//
// A URL maps to the file <first 16 hex chars of md5(url)><ext> in the cache
// directory. A file present under that name is treated as a complete earlier
// download; remote audio URLs are immutable, so no freshness check is made.
// Data is streamed into a temporary file that is renamed into place only when
// the transfer completed, so a failed download never leaves a cache entry.
package media

import (
	"context"
	"crypto/md5" // #nosec G501 -- used as a cache key, not for security
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/vocu-service/internal/fsutil"
	"github.com/book-expert/vocu-service/internal/telemetry"
)

const (
	// ChunkSize is the read buffer used while streaming to disk.
	ChunkSize = 1024 * 1024
	// DefaultExtension is used when the URL path has no suffix.
	DefaultExtension = fsutil.ExtMP3

	cacheKeyHexLength = 16
	partFilePattern   = ".*.part"
	filePermissions   = 0o600
)

// Log formats.
const (
	logFmtCacheHit   = "Audio cache hit: %s"
	logFmtProgress   = "Downloading %s: %s / %s"
	logFmtDownloaded = "Downloaded %s to %s (%s)"
	logFmtFailed     = "Download of %s into %s failed: %v"
	unknownTotal     = "?"
)

var (
	// ErrDownload wraps every transport, timeout or write failure of a download.
	ErrDownload = errors.New("download failed")
	// ErrUnexpectedStatus is returned for a non-2xx media response.
	ErrUnexpectedStatus = errors.New("unexpected http status")
	// ErrTruncated is returned when fewer bytes arrived than advertised.
	ErrTruncated = errors.New("download truncated")
)

// Doer sends HTTP requests. vocu.SessionManager satisfies it, which keeps
// media downloads on the shared session.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProgressFunc reports written bytes for key. total is -1 when the server
// did not advertise a length.
type ProgressFunc func(key string, written, total int64)

// Option customizes a Downloader.
type Option func(*Downloader)

// WithTimeout bounds each download. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Downloader) {
		d.timeout = timeout
	}
}

// WithProgress replaces the default logging progress reporter.
func WithProgress(progress ProgressFunc) Option {
	return func(d *Downloader) {
		d.progress = progress
	}
}

// WithRecorder counts downloads and written bytes.
func WithRecorder(recorder *telemetry.Recorder) Option {
	return func(d *Downloader) {
		d.recorder = recorder
	}
}

// Downloader materializes remote audio into the cache directory.
type Downloader struct {
	dir      string
	doer     Doer
	logger   *logger.Logger
	recorder *telemetry.Recorder
	timeout  time.Duration
	progress ProgressFunc
	inflight singleflight.Group

	transfersMu sync.Mutex
	transfers   map[string]*transfer
}

// transfer is the context shared by every caller waiting on one key. It is
// cancelled once the last waiter has left.
type transfer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewDownloader creates the cache directory if needed.
func NewDownloader(dir string, doer Doer, log *logger.Logger, opts ...Option) (*Downloader, error) {
	err := fsutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audio cache: %w", err)
	}

	downloader := &Downloader{
		dir:       dir,
		doer:      doer,
		logger:    log,
		transfers: make(map[string]*transfer),
	}
	downloader.progress = downloader.logProgress

	for _, opt := range opts {
		opt(downloader)
	}

	return downloader, nil
}

// Dir returns the cache directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// CacheKey returns the cache file name for rawURL.
func CacheKey(rawURL string) string {
	sum := md5.Sum([]byte(rawURL)) // #nosec G401 -- cache key only

	return hex.EncodeToString(sum[:])[:cacheKeyHexLength] + extension(rawURL)
}

// extension infers the file suffix from the last element of the URL path.
// A leading dot, as in "/.wav", starts a name rather than a suffix.
func extension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return DefaultExtension
	}

	name := path.Base(parsed.Path)

	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return DefaultExtension
	}

	return fsutil.SanitizeFilename(name[dot:])
}

// CachePath returns where rawURL is or would be cached.
func (d *Downloader) CachePath(rawURL string) string {
	return filepath.Join(d.dir, CacheKey(rawURL))
}

// Download returns the local path of rawURL, fetching it only when it is not
// cached yet. Concurrent calls for the same URL share one transfer. Each
// caller stops waiting when its own ctx is done; the transfer itself is
// cancelled only when no caller is left.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	key := CacheKey(rawURL)
	target := filepath.Join(d.dir, key)

	if fsutil.FileExists(target) {
		d.logger.Info(logFmtCacheHit, target)
		d.recorder.Download(ctx, telemetry.OutcomeCacheHit, 0)

		return target, nil
	}

	transferCtx := d.join(ctx, key)
	defer d.leave(key)

	results := d.inflight.DoChan(key, func() (any, error) {
		if fsutil.FileExists(target) {
			return target, nil
		}

		written, fetchErr := d.fetch(transferCtx, rawURL, key, target)
		d.recorder.Download(transferCtx, telemetry.Outcome(fetchErr), written)

		return target, fetchErr
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}

		filePath, _ := result.Val.(string)

		return filePath, nil
	}
}

// join registers a waiter for key and returns the shared transfer context.
// The context keeps the values of the first caller's ctx but none of its
// cancellation.
func (d *Downloader) join(ctx context.Context, key string) context.Context {
	d.transfersMu.Lock()
	defer d.transfersMu.Unlock()

	current, ok := d.transfers[key]
	if !ok {
		transferCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		current = &transfer{ctx: transferCtx, cancel: cancel}
		d.transfers[key] = current
	}

	current.waiters++

	return current.ctx
}

// leave drops a waiter. The last one out cancels the transfer and forgets the
// in-flight call so a later caller starts afresh.
func (d *Downloader) leave(key string) {
	d.transfersMu.Lock()
	defer d.transfersMu.Unlock()

	current, ok := d.transfers[key]
	if !ok {
		return
	}

	current.waiters--
	if current.waiters > 0 {
		return
	}

	current.cancel()
	delete(d.transfers, key)
	d.inflight.Forget(key)
}

func (d *Downloader) fetch(ctx context.Context, rawURL, key, target string) (int64, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, err)
	}

	resp, err := d.doer.Do(req)
	if err != nil {
		d.logger.Error(logFmtFailed, rawURL, target, err)

		return 0, fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return 0, fmt.Errorf("%w: %s: %w: %s", ErrDownload, rawURL, ErrUnexpectedStatus, resp.Status)
	}

	written, err := d.writeAtomically(resp.Body, key, target, resp.ContentLength)
	if err != nil {
		d.logger.Error(logFmtFailed, rawURL, target, err)

		return written, fmt.Errorf("%w: %s: %w", ErrDownload, rawURL, err)
	}

	d.logger.Info(logFmtDownloaded, rawURL, target, fsutil.FormatFileSize(written))

	return written, nil
}

// writeAtomically streams body into a temporary file next to target and
// renames it into place. The temporary file is removed on any failure.
func (d *Downloader) writeAtomically(body io.Reader, key, target string, total int64) (int64, error) {
	part, err := os.CreateTemp(d.dir, key+partFilePattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create partial file: %w", err)
	}

	partName := part.Name()

	written, copyErr := d.copyChunks(part, body, key, total)
	closeErr := part.Close()

	err = errors.Join(copyErr, closeErr)
	if err == nil && total >= 0 && written != total {
		err = fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, written, total)
	}

	if err == nil {
		err = os.Chmod(partName, filePermissions)
	}

	if err == nil {
		err = os.Rename(partName, target)
	}

	if err != nil {
		removeErr := os.Remove(partName)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			d.logger.Warn("Failed to remove partial file '%s': %v", partName, removeErr)
		}

		return written, err
	}

	return written, nil
}

func (d *Downloader) copyChunks(dst io.Writer, src io.Reader, key string, total int64) (int64, error) {
	buffer := make([]byte, ChunkSize)

	var written int64

	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			_, writeErr := dst.Write(buffer[:n])
			if writeErr != nil {
				return written, fmt.Errorf("failed to write chunk: %w", writeErr)
			}

			written += int64(n)
			d.progress(key, written, total)
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}

		if readErr != nil {
			return written, fmt.Errorf("failed to read chunk: %w", readErr)
		}
	}
}

func (d *Downloader) logProgress(key string, written, total int64) {
	totalText := unknownTotal
	if total >= 0 {
		totalText = fsutil.FormatFileSize(total)
	}

	d.logger.Info(logFmtProgress, key, fsutil.FormatFileSize(written), totalText)
}
