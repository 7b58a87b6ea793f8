// Package speech turns text into locally cached audio spoken by a named Vocu
// role. It chains normalization, role resolution, generation and download.
package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/vocu-service/internal/core"
	"github.com/book-expert/vocu-service/internal/text"
	"github.com/book-expert/vocu-service/internal/vocu"
)

const defaultWorkers = 1

// Static errors.
var (
	ErrRoleNameEmpty = errors.New("role name cannot be empty")
	ErrTextEmpty     = errors.New("text cannot be empty")
)

const (
	errFmtResolve             = "failed to resolve role '%s': %w"
	errFmtGenerate            = "failed to generate speech for role '%s': %w"
	errFmtDownload            = "failed to download audio %s: %w"
	errFmtChunkFailed         = "chunk %d failed: %w"
	logFmtSpoken              = "Spoke %d characters as '%s' (%s) into %s"
	logFmtChunkFailed         = "Failed to process chunk %d: %v"
	logFmtChunkProcessed      = "Processed chunk %d/%d"
	logFmtBatchFinishedFailed = "Batch for '%s' finished with %d of %d chunks failed"
)

// Result describes one synthesized utterance.
type Result = core.SpeechResult

// Synthesizer is the subset of vocu.Client the engine drives.
type Synthesizer interface {
	ResolveRoleID(ctx context.Context, name string) (string, error)
	Generate(ctx context.Context, req vocu.GenerateRequest) (string, error)
}

// Fetcher materializes an audio URL into a local file.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (string, error)
}

// Engine implements core.Speaker.
type Engine struct {
	synthesizer Synthesizer
	fetcher     Fetcher
	normalizer  *text.Normalizer
	logger      *logger.Logger
	workers     int
	promptID    string
}

// NewEngine creates an engine running at most workers generations at once
// in SpeakAll.
func NewEngine(synthesizer Synthesizer, fetcher Fetcher, log *logger.Logger, workers int) *Engine {
	if workers < 1 {
		workers = defaultWorkers
	}

	return &Engine{
		synthesizer: synthesizer,
		fetcher:     fetcher,
		normalizer:  text.NewNormalizer(),
		logger:      log,
		workers:     workers,
	}
}

// WithPrompt returns a copy of the engine that generates with promptID. An
// empty promptID falls back to the client's default prompt.
func (e *Engine) WithPrompt(promptID string) *Engine {
	engine := *e
	engine.promptID = promptID

	return &engine
}

// Speak normalizes input, synthesizes it with roleName's voice and returns
// the cached local file.
func (e *Engine) Speak(ctx context.Context, roleName, input string) (Result, error) {
	if roleName == "" {
		return Result{}, ErrRoleNameEmpty
	}

	normalized := e.normalizer.Normalize(input)
	if normalized == "" {
		return Result{}, ErrTextEmpty
	}

	voiceID, err := e.synthesizer.ResolveRoleID(ctx, roleName)
	if err != nil {
		return Result{}, fmt.Errorf(errFmtResolve, roleName, err)
	}

	audioURL, err := e.synthesizer.Generate(ctx, vocu.GenerateRequest{
		VoiceID:  voiceID,
		Text:     normalized,
		PromptID: e.promptID,
	})
	if err != nil {
		return Result{}, fmt.Errorf(errFmtGenerate, roleName, err)
	}

	filePath, err := e.fetcher.Download(ctx, audioURL)
	if err != nil {
		return Result{}, fmt.Errorf(errFmtDownload, audioURL, err)
	}

	e.logger.Info(logFmtSpoken, len([]rune(normalized)), roleName, voiceID, filePath)

	return Result{RoleName: roleName, VoiceID: voiceID, AudioURL: audioURL, FilePath: filePath}, nil
}

// SpeakAll speaks every input with roleName's voice using a bounded worker
// pool. Results keep input order; a failed input leaves a zero Result in its
// slot. Processing continues past failures and the last failure is returned.
func (e *Engine) SpeakAll(ctx context.Context, roleName string, inputs []string) ([]Result, error) {
	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		lastError error
		failed    int
		results   = make([]Result, len(inputs))
	)

	workerPool := make(chan struct{}, e.workers)

	for inputIndex, input := range inputs {
		waitGroup.Add(1)

		go func(index int, chunk string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			result, err := e.Speak(ctx, roleName, chunk)
			if err != nil {
				mutex.Lock()

				lastError = fmt.Errorf(errFmtChunkFailed, index+1, err)
				failed++

				mutex.Unlock()
				e.logger.Error(logFmtChunkFailed, index+1, err)

				return
			}

			results[index] = result

			e.logger.Info(logFmtChunkProcessed, index+1, len(inputs))
		}(inputIndex, input)
	}

	waitGroup.Wait()

	if failed > 0 {
		e.logger.Warn(logFmtBatchFinishedFailed, roleName, failed, len(inputs))
	}

	return results, lastError
}
