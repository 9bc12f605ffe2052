package generation

import (
	"context"
	"fmt"

	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/pricing"
)

// defaultMaxOutputTokens pads the text estimate when the caller sets no cap.
const defaultMaxOutputTokens = 1000

// Providers bundles the capability adapters the service dispatches to.
// A nil provider disables its capability.
type Providers struct {
	Text          TextProvider
	Image         ImageProvider
	Speech        SpeechProvider
	Transcription TranscriptionProvider
}

// Service runs the generation use cases: estimate the credit cost, reserve it
// on the ledger, call the provider, then settle the reservation against the
// measured cost and record the outcome.
type Service struct {
	ledger     CreditLedger
	calculator *pricing.Calculator
	records    RecordStore
	providers  Providers
	nowFn      func() int64
}

// NewService wires a Service.
func NewService(ledger CreditLedger, calculator *pricing.Calculator, records RecordStore, providers Providers, now func() int64) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if calculator == nil {
		return nil, fmt.Errorf("%w: calculator dependency is nil", ErrInvalidServiceConfig)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: record store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{
		ledger:     ledger,
		calculator: calculator,
		records:    records,
		providers:  providers,
		nowFn:      now,
	}, nil
}

// GenerateText runs the text use case for chat and completion requests.
func (service *Service) GenerateText(ctx context.Context, request TextRequest) (Record, error) {
	if service.providers.Text == nil {
		return Record{}, fmt.Errorf("%w: text", ErrProviderNotWired)
	}
	if request.Prompt == "" {
		return Record{}, ErrEmptyPrompt
	}
	maxOutputTokens := request.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	estimatedTokens := pricing.EstimateTokens(request.Prompt) + maxOutputTokens
	estimatedCredits, err := service.calculator.TextCredits(estimatedTokens, request.Model)
	if err != nil {
		return Record{}, err
	}

	return service.run(ctx, Record{
		WorkspaceID: request.WorkspaceID,
		Type:        TypeText,
		Model:       request.Model,
		Provider:    service.providers.Text.Name(),
		Prompt:      request.Prompt,
	}, estimatedCredits, func(ctx context.Context) (string, int64, error) {
		result, err := service.providers.Text.GenerateText(ctx, request)
		if err != nil {
			return "", 0, err
		}
		actualCredits, err := service.calculator.TextCreditsDetailed(result.InputTokens, result.OutputTokens, request.Model)
		if err != nil {
			return "", 0, err
		}
		return result.Output, actualCredits, nil
	})
}

// GenerateImage runs the image use case. Image cost is known up front, so the
// settlement consumes exactly the estimate.
func (service *Service) GenerateImage(ctx context.Context, request ImageRequest) (Record, error) {
	if service.providers.Image == nil {
		return Record{}, fmt.Errorf("%w: image", ErrProviderNotWired)
	}
	if request.Prompt == "" {
		return Record{}, ErrEmptyPrompt
	}
	count := request.Count
	if count <= 0 {
		count = 1
	}
	request.Count = count
	estimatedCredits, err := service.calculator.ImageCredits(request.Size, count)
	if err != nil {
		return Record{}, err
	}

	return service.run(ctx, Record{
		WorkspaceID: request.WorkspaceID,
		Type:        TypeImage,
		Model:       request.Model,
		Provider:    service.providers.Image.Name(),
		Prompt:      request.Prompt,
	}, estimatedCredits, func(ctx context.Context) (string, int64, error) {
		result, err := service.providers.Image.GenerateImage(ctx, request)
		if err != nil {
			return "", 0, err
		}
		return joinResult(result.ImageURLs), estimatedCredits, nil
	})
}

// GenerateSpeech runs the speech synthesis use case. Cost depends only on the
// input text, so the settlement consumes exactly the estimate.
func (service *Service) GenerateSpeech(ctx context.Context, request SpeechRequest) (Record, error) {
	if service.providers.Speech == nil {
		return Record{}, fmt.Errorf("%w: speech", ErrProviderNotWired)
	}
	if request.Text == "" {
		return Record{}, ErrEmptyPrompt
	}
	estimatedCredits := service.calculator.SpeechCredits(request.Text)

	return service.run(ctx, Record{
		WorkspaceID: request.WorkspaceID,
		Type:        TypeSpeech,
		Model:       request.Model,
		Provider:    service.providers.Speech.Name(),
		Prompt:      request.Text,
	}, estimatedCredits, func(ctx context.Context) (string, int64, error) {
		result, err := service.providers.Speech.GenerateSpeech(ctx, request)
		if err != nil {
			return "", 0, err
		}
		return result.AudioURL, estimatedCredits, nil
	})
}

// TranscribeAudio runs the transcription use case. The estimate comes from the
// caller-supplied duration and is reconciled against the measured duration.
func (service *Service) TranscribeAudio(ctx context.Context, request TranscriptionRequest) (Record, error) {
	if service.providers.Transcription == nil {
		return Record{}, fmt.Errorf("%w: transcription", ErrProviderNotWired)
	}
	estimatedCredits, err := service.calculator.TranscriptionCredits(request.EstimatedDurationSeconds)
	if err != nil {
		return Record{}, err
	}

	return service.run(ctx, Record{
		WorkspaceID: request.WorkspaceID,
		Type:        TypeTranscription,
		Model:       request.Model,
		Provider:    service.providers.Transcription.Name(),
		Prompt:      request.AudioURL,
	}, estimatedCredits, func(ctx context.Context) (string, int64, error) {
		result, err := service.providers.Transcription.TranscribeAudio(ctx, request)
		if err != nil {
			return "", 0, err
		}
		actualCredits, err := service.calculator.TranscriptionCredits(result.DurationSeconds)
		if err != nil {
			return "", 0, err
		}
		return result.Transcript, actualCredits, nil
	})
}

// ListRecords returns the most recent generation records for a workspace.
func (service *Service) ListRecords(ctx context.Context, workspaceID string, limit int) ([]Record, error) {
	return service.records.ListRecords(ctx, workspaceID, limit)
}

// run drives one generation through the shared lifecycle: PENDING record,
// credit reservation, provider call, settlement, terminal record state. Every
// path after a successful reservation resolves the hold exactly once.
func (service *Service) run(ctx context.Context, record Record, estimatedCredits int64, invoke func(ctx context.Context) (string, int64, error)) (Record, error) {
	workspaceID, err := credits.NewWorkspaceID(record.WorkspaceID)
	if err != nil {
		return Record{}, err
	}
	estimate, err := credits.NewCreditAmount(estimatedCredits)
	if err != nil {
		return Record{}, err
	}

	record.Status = StatusPending
	record.CreatedUnixUTC = service.nowFn()
	record.UpdatedUnixUTC = record.CreatedUnixUTC
	record, err = service.records.CreateRecord(ctx, record)
	if err != nil {
		return Record{}, err
	}

	hold, err := reserveCredits(ctx, service.ledger, workspaceID, estimate)
	if err != nil {
		service.finishRecord(ctx, &record, StatusFailed, "", 0, err)
		return record, err
	}

	output, actualCredits, err := invoke(ctx)
	if err != nil {
		if cancelErr := hold.cancel(ctx); cancelErr != nil {
			// The provider failure is the primary error; a failed release
			// leaves a stuck reservation for operator reconciliation.
			service.finishRecord(ctx, &record, StatusFailed, "", 0, fmt.Errorf("%v (release failed: %v)", err, cancelErr))
			return record, err
		}
		service.finishRecord(ctx, &record, StatusFailed, "", 0, err)
		return record, err
	}

	charged, err := hold.settle(ctx, actualCredits)
	if err != nil {
		service.finishRecord(ctx, &record, StatusFailed, "", 0, err)
		return record, err
	}

	service.finishRecord(ctx, &record, StatusCompleted, output, charged, nil)
	return record, nil
}

func (service *Service) finishRecord(ctx context.Context, record *Record, status Status, result string, chargedCredits int64, cause error) {
	record.Status = status
	record.Result = result
	record.CreditsCharged = chargedCredits
	if cause != nil {
		record.Error = cause.Error()
	}
	record.UpdatedUnixUTC = service.nowFn()
	// Record updates are best-effort: the ledger already settled and the
	// caller still receives the primary outcome.
	_ = service.records.UpdateRecord(ctx, *record)
}

func joinResult(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	joined := urls[0]
	for _, url := range urls[1:] {
		joined += "\n" + url
	}
	return joined
}
