package media_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/vocu-service/internal/media"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "media-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// countingServer serves payload for every path and counts requests.
func countingServer(t *testing.T, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

func newDownloader(t *testing.T, dir string, opts ...media.Option) *media.Downloader {
	t.Helper()

	downloader, err := media.NewDownloader(dir, http.DefaultClient, newTestLogger(t), opts...)
	require.NoError(t, err)

	return downloader
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	key := media.CacheKey("https://cdn.example.com/a.wav")
	assert.Equal(t, "8eaf3bfec377a934.wav", key)

	assert.Equal(t, key, media.CacheKey("https://cdn.example.com/a.wav"), "keys are deterministic")
	assert.NotEqual(t, key, media.CacheKey("https://cdn.example.com/b.wav"))

	testCases := []struct {
		url string
		ext string
	}{
		{url: "https://cdn.example.com/audio", ext: ".mp3"},
		{url: "https://cdn.example.com/audio.ogg?sig=abc", ext: ".ogg"},
		{url: "https://cdn.example.com/dir.v2/audio", ext: ".mp3"},
		{url: "https://cdn.example.com/a.mp3#frag", ext: ".mp3"},
		{url: "https://cdn.example.com/y/.wav", ext: ".mp3"},
		{url: "https://cdn.example.com/y/take.", ext: ".mp3"},
	}

	for _, testCase := range testCases {
		assert.Equal(t, testCase.ext, filepath.Ext(media.CacheKey(testCase.url)), testCase.url)
	}
}

func TestDownload_IsIdempotent(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("vocu"), 1024)
	server, hits := countingServer(t, payload)

	dir := t.TempDir()
	downloader := newDownloader(t, dir)
	target := server.URL + "/audio/clip.mp3"

	first, err := downloader.Download(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, downloader.CachePath(target), first)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	server.Close()

	second, err := downloader.Download(context.Background(), target)
	require.NoError(t, err, "a cached file is served without the network")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, []string{filepath.Base(first)}, listDir(t, dir))
}

func TestDownload_PartialTransferLeavesNoFile(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte("only a few bytes"))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	downloader := newDownloader(t, dir)

	_, err := downloader.Download(context.Background(), server.URL+"/broken.mp3")
	require.ErrorIs(t, err, media.ErrDownload)
	assert.Empty(t, listDir(t, dir), "no partial or final file remains")
}

func TestDownload_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	dir := t.TempDir()
	downloader := newDownloader(t, dir)

	_, err := downloader.Download(context.Background(), server.URL+"/missing.mp3")
	require.ErrorIs(t, err, media.ErrDownload)
	require.ErrorIs(t, err, media.ErrUnexpectedStatus)
	assert.Empty(t, listDir(t, dir))
}

func TestDownload_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	dir := t.TempDir()
	downloader := newDownloader(t, dir, media.WithTimeout(50*time.Millisecond))

	_, err := downloader.Download(context.Background(), server.URL+"/slow.mp3")
	require.ErrorIs(t, err, media.ErrDownload)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, listDir(t, dir))
}

func TestDownload_ConcurrentCallsShareTransfer(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}

		<-release
		_, _ = w.Write([]byte("shared"))
	}))
	t.Cleanup(server.Close)

	downloader := newDownloader(t, t.TempDir())
	target := server.URL + "/shared.mp3"

	const callers = 8

	var (
		waitGroup sync.WaitGroup
		paths     = make([]string, callers)
		errs      = make([]error, callers)
	)

	for i := range callers {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			paths[index], errs[index] = downloader.Download(context.Background(), target)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	waitGroup.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, downloader.CachePath(target), paths[i])
	}

	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_CancelledCallerLeavesTransferRunning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}

		<-release
		_, _ = w.Write([]byte("kept"))
	}))
	t.Cleanup(server.Close)

	downloader := newDownloader(t, t.TempDir())
	target := server.URL + "/kept.mp3"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, err := downloader.Download(firstCtx, target)
		firstErr <- err
	}()

	<-started

	secondPath := make(chan string, 1)
	secondErr := make(chan error, 1)

	go func() {
		path, err := downloader.Download(context.Background(), target)
		secondPath <- path
		secondErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	require.ErrorIs(t, err, media.ErrDownload)
	require.ErrorIs(t, err, context.Canceled)

	close(release)

	require.NoError(t, <-secondErr)
	path := <-secondPath

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownload_LastCallerCancelStopsTransfer(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	downloader := newDownloader(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)

	go func() {
		_, err := downloader.Download(ctx, server.URL+"/abandoned.mp3")
		errs <- err
	}()

	<-started
	cancel()

	require.ErrorIs(t, <-errs, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer was not cancelled")
	}

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)

		return err == nil && len(entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDownload_ReportsProgress(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x1}, media.ChunkSize+512)
	server, _ := countingServer(t, payload)

	var (
		mu      sync.Mutex
		written []int64
		totals  []int64
	)

	progress := func(_ string, n, total int64) {
		mu.Lock()
		defer mu.Unlock()

		written = append(written, n)
		totals = append(totals, total)
	}

	downloader := newDownloader(t, t.TempDir(), media.WithProgress(progress))

	_, err := downloader.Download(context.Background(), server.URL+"/big.wav")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, written)
	assert.Equal(t, int64(len(payload)), written[len(written)-1])
	assert.Equal(t, int64(len(payload)), totals[0])

	for i := 1; i < len(written); i++ {
		assert.Greater(t, written[i], written[i-1])
	}
}
