package vocu

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// statusSuccess is the status code the service embeds in successful envelopes.
const statusSuccess = 200

// Error messages.
const (
	errFmtRemote          = "vocu error (status: %d): %s"
	errFmtDecodeData      = "failed to decode %s payload: %w"
	errFmtMissingField    = "%w: missing %s"
	errFmtRequestFailed   = "request %s %s failed: %w"
	errFmtCreateRequest   = "failed to create request: %w"
	errFmtMarshalRequest  = "failed to marshal request: %w"
	errFmtUnexpectedBody  = "%w: http %s, body: %s"
	errFmtRoleNotFound    = "%w: %s"
	errFmtIndexOutOfRange = "%w: %d not in [0, %d)"
	maxErrorBodyBytes     = 4096
)

// Static errors. Callers match them with errors.Is.
var (
	// ErrMalformedResponse marks a payload that does not have the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRoleNotFound is returned when no role carries the requested name.
	ErrRoleNotFound = errors.New("role not found")
	// ErrRoleIndexOutOfRange is returned for an index outside the last fetched role list.
	ErrRoleIndexOutOfRange = errors.New("role index out of range")
	// ErrEmptyHistory is returned when no history page yielded a record.
	ErrEmptyHistory = errors.New("history is empty")
	// ErrTaskSubmission is returned when an async submission carries no task id.
	ErrTaskSubmission = errors.New("failed to obtain generation task id")
	// ErrGenerationFailed is returned when the remote task ends in a failed state.
	ErrGenerationFailed = errors.New("generation task failed")
	// ErrTextEmpty is returned when there is nothing to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceIDEmpty is returned when a generation request names no voice.
	ErrVoiceIDEmpty = errors.New("voice id cannot be empty")
	// ErrUnknownMode is returned for a generation mode other than sync or async.
	ErrUnknownMode = errors.New("unknown generation mode")
	// ErrSessionClosed is returned by a session used after Close.
	ErrSessionClosed = errors.New("session is closed")
)

// RemoteError is a non-success status reported inside the service envelope.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf(errFmtRemote, e.Status, e.Message)
}

// IsRemoteError reports whether err wraps a RemoteError.
func IsRemoteError(err error) bool {
	var remoteErr *RemoteError

	return errors.As(err, &remoteErr)
}

// envelope is the wrapper every endpoint responds with.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	VoiceID string          `json:"voiceId,omitempty"`
}

// decodeEnvelope reads the body and translates a non-success status into a
// RemoteError before any field of data is looked at.
func decodeEnvelope(resp *http.Response) (*envelope, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope

	err = json.Unmarshal(body, &env)
	if err != nil {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}

		return nil, fmt.Errorf(errFmtUnexpectedBody, ErrMalformedResponse, resp.Status, string(body))
	}

	if env.Status != statusSuccess {
		return nil, &RemoteError{Status: env.Status, Message: env.Message}
	}

	return &env, nil
}

// decodeData unmarshals the envelope data into target.
func decodeData(env *envelope, what string, target any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf(errFmtMissingField, ErrMalformedResponse, what)
	}

	err := json.Unmarshal(env.Data, target)
	if err != nil {
		return fmt.Errorf(errFmtDecodeData, what, errors.Join(ErrMalformedResponse, err))
	}

	return nil
}
