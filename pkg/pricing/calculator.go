package pricing

import (
	"fmt"
	"math"
	"unicode/utf16"
)

// Calculator maps usage metrics to integer credit costs. Methods are pure and
// deterministic given the configured rate table; none of them perform I/O.
// UpdateConfig is configuration-time only and must not run concurrently with
// live calculations.
type Calculator struct {
	config Config
}

// NewCalculator validates the rate table and returns a Calculator.
func NewCalculator(config Config) (*Calculator, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return &Calculator{config: cloneConfig(config)}, nil
}

// Config returns a copy of the active rate table.
func (calculator *Calculator) Config() Config {
	return cloneConfig(calculator.config)
}

// UpdateConfig deep-merges the map rates from patch into the active table and
// replaces the scalar rates that are set.
func (calculator *Calculator) UpdateConfig(patch Patch) {
	for model, rate := range patch.TextCreditsPerKToken {
		calculator.config.TextCreditsPerKToken[model] = rate
	}
	for size, rate := range patch.ImageCredits {
		calculator.config.ImageCredits[size] = rate
	}
	if patch.SpeechCreditsPerKChar != nil {
		calculator.config.SpeechCreditsPerKChar = *patch.SpeechCreditsPerKChar
	}
	if patch.TranscriptionCreditsPerMinute != nil {
		calculator.config.TranscriptionCreditsPerMinute = *patch.TranscriptionCreditsPerMinute
	}
}

// TextCredits charges ceil(tokens/1000 * rate) for the model's per-kilotoken
// rate, falling back to the default rate for unknown models. Zero tokens cost
// zero; any positive token count costs at least one credit.
func (calculator *Calculator) TextCredits(tokens int64, model string) (int64, error) {
	if tokens < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeTokenCount, tokens)
	}
	if tokens == 0 {
		return 0, nil
	}
	rate, ok := calculator.config.TextCreditsPerKToken[model]
	if !ok {
		rate = calculator.config.TextCreditsPerKToken[DefaultModelKey]
	}
	credits := ceilDiv(tokens*rate, 1000)
	if credits < 1 {
		credits = 1
	}
	return credits, nil
}

// TextCreditsDetailed charges input and output tokens at the single combined
// per-model rate. The split parameters are kept for call-site clarity; no
// separate input/output pricing is modeled, so existing billing history stays
// reproducible.
func (calculator *Calculator) TextCreditsDetailed(inputTokens int64, outputTokens int64, model string) (int64, error) {
	if inputTokens < 0 {
		return 0, fmt.Errorf("%w: input %d", ErrNegativeTokenCount, inputTokens)
	}
	if outputTokens < 0 {
		return 0, fmt.Errorf("%w: output %d", ErrNegativeTokenCount, outputTokens)
	}
	return calculator.TextCredits(inputTokens+outputTokens, model)
}

// ImageCredits charges the per-size rate times count. Unknown sizes fail;
// zero count costs zero.
func (calculator *Calculator) ImageCredits(size string, count int64) (int64, error) {
	rate, ok := calculator.config.ImageCredits[size]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownImageSize, size)
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidImageCount, count)
	}
	return rate * count, nil
}

// SpeechCredits charges ceil(length/1000 * rate) where length is the UTF-16
// code unit count of text, matching the string length semantics of the billing
// history's original runtime (surrogate pairs count as two).
func (calculator *Calculator) SpeechCredits(text string) int64 {
	length := utf16Length(text)
	if length == 0 {
		return 0
	}
	return ceilDiv(length*calculator.config.SpeechCreditsPerKChar, 1000)
}

// TranscriptionCredits charges ceil(durationSeconds/60 * rate). Zero duration
// costs zero; negative or non-finite durations fail.
func (calculator *Calculator) TranscriptionCredits(durationSeconds float64) (int64, error) {
	if durationSeconds < 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDuration, durationSeconds)
	}
	if durationSeconds == 0 {
		return 0, nil
	}
	return int64(math.Ceil(durationSeconds / 60.0 * float64(calculator.config.TranscriptionCreditsPerMinute))), nil
}

// EstimateTokens is the crude ceil(length/4) fallback estimator used when true
// token counts are unavailable. Length is UTF-16 code units, as in
// SpeechCredits.
func EstimateTokens(text string) int64 {
	length := utf16Length(text)
	if length == 0 {
		return 0
	}
	return ceilDiv(length, 4)
}

func utf16Length(text string) int64 {
	var length int64
	for _, r := range text {
		length += int64(len(utf16.Encode([]rune{r})))
	}
	return length
}

func ceilDiv(numerator int64, denominator int64) int64 {
	return (numerator + denominator - 1) / denominator
}
