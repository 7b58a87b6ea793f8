// Package worker provides a NATS worker that turns speech requests into
// audio stored in the object store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/vocu-service/internal/core"
	"github.com/book-expert/vocu-service/internal/fsutil"
)

const (
	defaultJobTimeout  = 10 * time.Minute
	defaultConcurrency = 1
	drainPollInterval  = 10 * time.Millisecond

	// QueueGroup lets several service instances share one subject.
	QueueGroup = "vocu-service"
	// ErrorHeader carries the failure reason on an error reply.
	ErrorHeader = "Vocu-Error"
)

var (
	// ErrSubjectEmpty indicates that no subject was configured.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrTextKeyEmpty indicates an event without a text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrVoiceEmpty indicates an event without a role name.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrTextEmpty indicates that the stored text is blank.
	ErrTextEmpty = errors.New("stored text is empty")
)

// Option customizes a NatsWorker.
type Option func(*NatsWorker)

// WithJobTimeout bounds the handling of a single message.
func WithJobTimeout(timeout time.Duration) Option {
	return func(w *NatsWorker) {
		if timeout > 0 {
			w.jobTimeout = timeout
		}
	}
}

// WithConcurrency sets how many messages are handled at once.
func WithConcurrency(concurrency int) Option {
	return func(w *NatsWorker) {
		if concurrency > 0 {
			w.concurrency = concurrency
		}
	}
}

// NatsWorker listens for speech jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	speaker        core.Speaker
	log            *logger.Logger
	jobTimeout     time.Duration
	concurrency    int
	slots          chan struct{}
	inflight       sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	speaker core.Speaker,
	log *logger.Logger,
	opts ...Option,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	worker := &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		speaker:        speaker,
		log:            log,
		jobTimeout:     defaultJobTimeout,
		concurrency:    defaultConcurrency,
	}

	for _, opt := range opts {
		opt(worker)
	}

	worker.slots = make(chan struct{}, worker.concurrency)

	return worker, nil
}

// Run starts the worker and blocks until ctx is done. Jobs in flight are
// allowed to finish before Run returns.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, QueueGroup, func(msg *nats.Msg) {
		w.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for speech jobs on '%s' (concurrency %d)", w.subject, w.concurrency)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr == nil {
		w.awaitDrained(sub)
	}

	w.inflight.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// awaitDrained blocks until the drained subscription stops delivering, so
// no dispatch can start after the in-flight wait begins.
func (w *NatsWorker) awaitDrained(sub *nats.Subscription) {
	deadline := time.Now().Add(w.jobTimeout)

	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
	}
}

// dispatch hands msg to a free slot. It blocks the subscription callback
// while every slot is busy, which pushes back on the subject.
func (w *NatsWorker) dispatch(ctx context.Context, msg *nats.Msg) {
	w.slots <- struct{}{}

	w.inflight.Add(1)

	go func() {
		defer func() {
			<-w.slots
			w.inflight.Done()
		}()

		// Jobs outlive ctx; only the job timeout bounds them.
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
		defer cancel()

		w.handleMessage(jobCtx, msg)
	}()
}

func (w *NatsWorker) handleMessage(ctx context.Context, msg *nats.Msg) {
	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)
		w.respondError(msg, err)

		return
	}

	audioKey, processErr := w.processSpeechJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process speech job for workflow %s: %v", event.Header.WorkflowID, processErr)
		w.respondError(msg, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	w.log.Info("Workflow %s page %d/%d spoken into %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)
}

// processSpeechJob downloads the text, speaks it and uploads the audio.
func (w *NatsWorker) processSpeechJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	input := strings.TrimSpace(string(textData))
	if input == "" {
		return "", fmt.Errorf("%w: %s", ErrTextEmpty, event.TextKey)
	}

	result, err := w.speaker.Speak(ctx, event.Voice, input)
	if err != nil {
		return "", fmt.Errorf("failed to speak text '%s': %w", event.TextKey, err)
	}

	ext := filepath.Ext(result.FilePath)
	if !fsutil.IsValidAudioFile(result.FilePath) {
		ext = fsutil.ExtMP3
	}

	audioKey := uuid.NewString() + ext

	err = w.store.UploadFile(ctx, audioKey, result.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

// respondError tells a waiting requester why its job failed. Published
// messages without a reply subject are only logged.
func (w *NatsWorker) respondError(msg *nats.Msg, cause error) {
	if msg.Reply == "" {
		return
	}

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(ErrorHeader, cause.Error())

	err := msg.RespondMsg(reply)
	if err != nil {
		w.log.Warn("Failed to send error reply: %v", err)
	}
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	if strings.TrimSpace(event.Voice) == "" {
		return nil, ErrVoiceEmpty
	}

	return &event, nil
}
