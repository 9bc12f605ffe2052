package pricing

import (
	"errors"
	"fmt"
)

// DefaultModelKey is the rate-table fallback for models without an explicit rate.
const DefaultModelKey = "default"

var (
	ErrInvalidCalculatorConfig = errors.New("invalid calculator config")
	ErrNegativeTokenCount      = errors.New("negative token count")
	ErrUnknownImageSize        = errors.New("unknown image size")
	ErrInvalidImageCount       = errors.New("invalid image count")
	ErrInvalidDuration         = errors.New("invalid duration")
)

// Config holds the credit rate table. Text rates are credits per 1000 tokens
// keyed by model, image rates are credits per image keyed by size, speech is
// credits per 1000 characters, transcription credits per minute.
type Config struct {
	TextCreditsPerKToken          map[string]int64
	ImageCredits                  map[string]int64
	SpeechCreditsPerKChar         int64
	TranscriptionCreditsPerMinute int64
}

// DefaultConfig returns the built-in rate table. Existing billing history
// depends on these exact values.
func DefaultConfig() Config {
	return Config{
		TextCreditsPerKToken: map[string]int64{
			"gpt-4":             30,
			"gpt-4-turbo":       20,
			"gpt-4o":            15,
			"gpt-3.5-turbo":     2,
			"claude-3-opus":     30,
			"claude-3-sonnet":   15,
			"claude-3-haiku":    5,
			"claude-3-5-sonnet": 15,
			"gemini-pro":        10,
			"gemini-1.5-pro":    15,
			"gemini-1.5-flash":  5,
			"mistral-large":     20,
			"mistral-medium":    10,
			"mistral-small":     5,
			DefaultModelKey:     10,
		},
		ImageCredits: map[string]int64{
			"256x256":   10,
			"512x512":   20,
			"1024x1024": 40,
			"1792x1024": 60,
			"1024x1792": 60,
		},
		SpeechCreditsPerKChar:         5,
		TranscriptionCreditsPerMinute: 3,
	}
}

// Patch is a partial rate-table update. Map entries deep-merge into the
// existing maps; non-nil scalar rates replace the existing values.
type Patch struct {
	TextCreditsPerKToken          map[string]int64
	ImageCredits                  map[string]int64
	SpeechCreditsPerKChar         *int64
	TranscriptionCreditsPerMinute *int64
}

func validateConfig(config Config) error {
	if len(config.TextCreditsPerKToken) == 0 {
		return fmt.Errorf("%w: missing text rate table", ErrInvalidCalculatorConfig)
	}
	if _, ok := config.TextCreditsPerKToken[DefaultModelKey]; !ok {
		return fmt.Errorf("%w: missing %q text rate", ErrInvalidCalculatorConfig, DefaultModelKey)
	}
	if len(config.ImageCredits) == 0 {
		return fmt.Errorf("%w: missing image rate table", ErrInvalidCalculatorConfig)
	}
	if config.SpeechCreditsPerKChar < 0 || config.TranscriptionCreditsPerMinute < 0 {
		return fmt.Errorf("%w: negative scalar rate", ErrInvalidCalculatorConfig)
	}
	for model, rate := range config.TextCreditsPerKToken {
		if rate < 0 {
			return fmt.Errorf("%w: negative text rate for %q", ErrInvalidCalculatorConfig, model)
		}
	}
	for size, rate := range config.ImageCredits {
		if rate < 0 {
			return fmt.Errorf("%w: negative image rate for %q", ErrInvalidCalculatorConfig, size)
		}
	}
	return nil
}

func cloneConfig(config Config) Config {
	cloned := Config{
		TextCreditsPerKToken:          make(map[string]int64, len(config.TextCreditsPerKToken)),
		ImageCredits:                  make(map[string]int64, len(config.ImageCredits)),
		SpeechCreditsPerKChar:         config.SpeechCreditsPerKChar,
		TranscriptionCreditsPerMinute: config.TranscriptionCreditsPerMinute,
	}
	for model, rate := range config.TextCreditsPerKToken {
		cloned.TextCreditsPerKToken[model] = rate
	}
	for size, rate := range config.ImageCredits {
		cloned.ImageCredits[size] = rate
	}
	return cloned
}
