package vocu

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/vocu-service/internal/telemetry"
)

// Generation endpoints.
const (
	apiSimpleGenerate = "/api/tts/simple-generate"
	apiGenerate       = "/api/tts/generate"
	apiGenerateTask   = "/api/tts/generate/"
)

// Fixed generation parameters.
const (
	syncPreset       = "v2_creative"
	randomSeed       = -1
	asyncTemperature = 1
	asyncTopK        = 1024
	asyncTopP        = 1
)

// Mode selects how a generation request is executed.
type Mode string

// Generation modes.
const (
	// ModeSync generates inline in one round trip. Suitable for short text.
	ModeSync Mode = "sync"
	// ModeAsync submits a task and polls it until the audio is ready.
	ModeAsync Mode = "async"
)

func (m Mode) valid() bool {
	return m == ModeSync || m == ModeAsync
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// GenerateRequest describes one piece of text to synthesize.
type GenerateRequest struct {
	VoiceID  string
	Text     string
	PromptID string
	// Mode overrides the client's configured mode when set.
	Mode Mode
}

// TaskStatus is the remote state of an async generation task.
type TaskStatus string

// Terminal task statuses. Every other value means the task is still running.
const (
	TaskStatusGenerated TaskStatus = "generated"
	TaskStatusFailed    TaskStatus = "failed"
)

// GenerationTask is the transient handle of an async generation.
type GenerationTask struct {
	TaskID string
	Status TaskStatus
}

// generationState is the position of an async generation in its lifecycle.
type generationState int

const (
	stateSubmitted generationState = iota
	statePolling
	stateGenerated
	stateFailed
)

func (s generationState) terminal() bool {
	return s == stateGenerated || s == stateFailed
}

type syncGenerateRequest struct {
	VoiceID  string `json:"voiceId"`
	Text     string `json:"text"`
	PromptID string `json:"promptId"`
	Preset   string `json:"preset"`
	Flash    bool   `json:"flash"`
	Stream   bool   `json:"stream"`
	SRT      bool   `json:"srt"`
	Seed     int    `json:"seed"`
}

type generateContent struct {
	VoiceID  string `json:"voiceId"`
	Text     string `json:"text"`
	PromptID string `json:"promptId"`
}

type asyncGenerateRequest struct {
	Contents    []generateContent `json:"contents"`
	BreakClone  bool              `json:"break_clone"`
	Sharpen     bool              `json:"sharpen"`
	Temperature float64           `json:"temperature"`
	TopK        int               `json:"top_k"`
	TopP        float64           `json:"top_p"`
	SRT         bool              `json:"srt"`
	Seed        int               `json:"seed"`
}

type syncGenerateData struct {
	Audio string `json:"audio"`
}

type submitData struct {
	ID string `json:"id"`
}

type taskData struct {
	Status   TaskStatus `json:"status"`
	Metadata struct {
		Contents []struct {
			Audio string `json:"audio"`
		} `json:"contents"`
	} `json:"metadata"`
}

// Generate synthesizes text with the given voice and returns the audio URL.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrTextEmpty
	}

	if req.VoiceID == "" {
		return "", ErrVoiceIDEmpty
	}

	if req.PromptID == "" {
		req.PromptID = c.opts.DefaultPromptID
	}

	if req.Mode == "" {
		req.Mode = c.opts.Mode
	}

	if !req.Mode.valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	if c.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.opts.GenerateTimeout)
		defer cancel()
	}

	var (
		audioURL string
		err      error
	)

	if req.Mode == ModeSync {
		audioURL, err = c.syncGenerate(ctx, req)
	} else {
		audioURL, err = c.asyncGenerate(ctx, req)
	}

	c.recorder.Generation(ctx, string(req.Mode), telemetry.Outcome(err))

	return audioURL, err
}

func (c *Client) syncGenerate(ctx context.Context, req GenerateRequest) (string, error) {
	body := syncGenerateRequest{
		VoiceID:  req.VoiceID,
		Text:     req.Text,
		PromptID: req.PromptID,
		Preset:   syncPreset,
		Flash:    false,
		Stream:   false,
		SRT:      false,
		Seed:     randomSeed,
	}

	env, err := c.call(ctx, "simple_generate", http.MethodPost, apiSimpleGenerate, nil, body)
	if err != nil {
		return "", fmt.Errorf("failed to generate speech: %w", err)
	}

	var data syncGenerateData

	err = decodeData(env, "generation result", &data)
	if err != nil {
		return "", err
	}

	if data.Audio == "" {
		return "", fmt.Errorf(errFmtMissingField, ErrMalformedResponse, "data.audio")
	}

	return data.Audio, nil
}

// asyncGenerate drives a task from submission to a terminal state. The first
// poll happens right after submission, later polls wait PollInterval.
func (c *Client) asyncGenerate(ctx context.Context, req GenerateRequest) (string, error) {
	taskID, err := c.submitTask(ctx, req)
	if err != nil {
		return "", err
	}

	state := stateSubmitted

	var result taskData

	for !state.terminal() {
		if state == statePolling {
			sleepErr := c.opts.Sleeper(ctx, c.opts.PollInterval)
			if sleepErr != nil {
				return "", fmt.Errorf("stopped polling generation task %s: %w", taskID, sleepErr)
			}
		}

		result, err = c.pollTask(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch result.Status {
		case TaskStatusGenerated:
			state = stateGenerated
		case TaskStatusFailed:
			state = stateFailed
		default:
			state = statePolling
		}
	}

	if state == stateFailed {
		return "", fmt.Errorf("%w: task %s", ErrGenerationFailed, taskID)
	}

	contents := result.Metadata.Contents
	if len(contents) == 0 || contents[0].Audio == "" {
		return "", fmt.Errorf(errFmtMissingField, ErrMalformedResponse, "data.metadata.contents[0].audio")
	}

	c.logger.Info("Generation task %s finished", taskID)

	return contents[0].Audio, nil
}

func (c *Client) submitTask(ctx context.Context, req GenerateRequest) (string, error) {
	body := asyncGenerateRequest{
		Contents: []generateContent{{
			VoiceID:  req.VoiceID,
			Text:     req.Text,
			PromptID: req.PromptID,
		}},
		BreakClone:  true,
		Sharpen:     false,
		Temperature: asyncTemperature,
		TopK:        asyncTopK,
		TopP:        asyncTopP,
		SRT:         false,
		Seed:        randomSeed,
	}

	env, err := c.call(ctx, "submit_generate", http.MethodPost, apiGenerate, nil, body)
	if err != nil {
		return "", fmt.Errorf("failed to submit generation task: %w", err)
	}

	var data submitData

	err = decodeData(env, "submitted task", &data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTaskSubmission, err)
	}

	if data.ID == "" {
		return "", ErrTaskSubmission
	}

	return data.ID, nil
}

// PollTask fetches the current state of an async generation task once.
func (c *Client) PollTask(ctx context.Context, taskID string) (GenerationTask, error) {
	data, err := c.pollTask(ctx, taskID)
	if err != nil {
		return GenerationTask{}, err
	}

	return GenerationTask{TaskID: taskID, Status: data.Status}, nil
}

func (c *Client) pollTask(ctx context.Context, taskID string) (taskData, error) {
	query := url.Values{"stream": []string{"true"}}

	env, err := c.call(ctx, "poll_generate", http.MethodGet,
		apiGenerateTask+url.PathEscape(taskID), query, nil)
	if err != nil {
		return taskData{}, fmt.Errorf("failed to poll generation task %s: %w", taskID, err)
	}

	var data taskData

	err = decodeData(env, "generation task", &data)
	if err != nil {
		return taskData{}, err
	}

	return data, nil
}
