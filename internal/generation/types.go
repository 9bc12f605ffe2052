package generation

import (
	"context"
	"errors"
)

// Type enumerates the AI capabilities the ledger bills for.
type Type string

const (
	TypeText          Type = "TEXT"
	TypeImage         Type = "IMAGE"
	TypeSpeech        Type = "SPEECH"
	TypeTranscription Type = "TRANSCRIPTION"
)

// Status is the lifecycle of a generation record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrInvalidServiceConfig = errors.New("invalid generation service config")
	ErrProviderNotWired     = errors.New("provider not wired")
	ErrEmptyPrompt          = errors.New("empty prompt")
	ErrRecordNotFound       = errors.New("generation record not found")
)

// Record is the persisted audit row for one generation attempt. It is created
// PENDING before the provider call and moved to a terminal state after.
type Record struct {
	ID             string
	WorkspaceID    string
	Type           Type
	Model          string
	Provider       string
	Prompt         string
	Status         Status
	CreditsCharged int64
	Result         string
	Error          string
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// RecordStore persists generation audit rows.
type RecordStore interface {
	CreateRecord(ctx context.Context, record Record) (Record, error)
	UpdateRecord(ctx context.Context, record Record) error
	ListRecords(ctx context.Context, workspaceID string, limit int) ([]Record, error)
}

// TextRequest asks a text provider for a chat or completion response.
type TextRequest struct {
	WorkspaceID     string
	Model           string
	Prompt          string
	MaxOutputTokens int64
}

// TextResult is the provider's response with measured token usage.
type TextResult struct {
	Output       string
	InputTokens  int64
	OutputTokens int64
}

// TextProvider generates text completions.
type TextProvider interface {
	Name() string
	GenerateText(ctx context.Context, request TextRequest) (TextResult, error)
}

// ImageRequest asks an image provider for count images at the given size.
type ImageRequest struct {
	WorkspaceID string
	Model       string
	Prompt      string
	Size        string
	Count       int64
}

// ImageResult carries references to the produced images.
type ImageResult struct {
	ImageURLs []string
}

// ImageProvider generates images.
type ImageProvider interface {
	Name() string
	GenerateImage(ctx context.Context, request ImageRequest) (ImageResult, error)
}

// SpeechRequest asks a speech provider to synthesize text.
type SpeechRequest struct {
	WorkspaceID string
	Model       string
	Voice       string
	Text        string
}

// SpeechResult carries a reference to the produced audio.
type SpeechResult struct {
	AudioURL string
}

// SpeechProvider synthesizes speech.
type SpeechProvider interface {
	Name() string
	GenerateSpeech(ctx context.Context, request SpeechRequest) (SpeechResult, error)
}

// TranscriptionRequest asks a transcription provider to transcribe audio.
// EstimatedDurationSeconds drives the credit estimate before the provider
// reports the measured duration.
type TranscriptionRequest struct {
	WorkspaceID              string
	Model                    string
	AudioURL                 string
	EstimatedDurationSeconds float64
}

// TranscriptionResult is the transcript plus the measured audio duration.
type TranscriptionResult struct {
	Transcript      string
	DurationSeconds float64
}

// TranscriptionProvider transcribes audio.
type TranscriptionProvider interface {
	Name() string
	TranscribeAudio(ctx context.Context, request TranscriptionRequest) (TranscriptionResult, error)
}
