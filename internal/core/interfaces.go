// Package core defines the interfaces shared by the speech worker and its
// collaborators.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	// UploadFile streams the file at path into the store under key.
	UploadFile(ctx context.Context, key, path string) error
}

// SpeechResult describes one synthesized utterance.
type SpeechResult struct {
	RoleName string
	VoiceID  string
	AudioURL string
	// FilePath is the local cached copy of AudioURL.
	FilePath string
}

// Speaker turns text into a locally cached audio file spoken by a named role.
type Speaker interface {
	Speak(ctx context.Context, roleName, text string) (SpeechResult, error)
}
