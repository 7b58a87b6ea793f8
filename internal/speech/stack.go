package speech

import (
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/vocu-service/internal/config"
	"github.com/book-expert/vocu-service/internal/fsutil"
	"github.com/book-expert/vocu-service/internal/media"
	"github.com/book-expert/vocu-service/internal/telemetry"
	"github.com/book-expert/vocu-service/internal/vocu"
)

// Stack is the client, downloader and engine built from one configuration.
// The downloader shares the client's session.
type Stack struct {
	Client     *vocu.Client
	Downloader *media.Downloader
	Engine     *Engine
}

// NewStack wires a Stack from cfg. recorder may be nil. downloadOpts are
// applied after the configured ones.
func NewStack(
	cfg *config.Config,
	log *logger.Logger,
	recorder *telemetry.Recorder,
	downloadOpts ...media.Option,
) (*Stack, error) {
	client, err := vocu.NewClientFromConfig(cfg.Vocu, log, recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create vocu client: %w", err)
	}

	opts := append([]media.Option{
		media.WithTimeout(cfg.Vocu.DownloadTimeout()),
		media.WithRecorder(recorder),
	}, downloadOpts...)

	downloader, err := media.NewDownloader(fsutil.AudioCacheDir(cfg.Cache.Dir), client.Sessions(), log, opts...)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to create downloader: %w", err)
	}

	return &Stack{
		Client:     client,
		Downloader: downloader,
		Engine:     NewEngine(client, downloader, log, cfg.Vocu.Workers),
	}, nil
}

// Close releases the shared session.
func (s *Stack) Close() error {
	return s.Client.Close()
}
