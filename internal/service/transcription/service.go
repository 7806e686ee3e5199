// Package transcription sequences one request through normalization,
// recognition and best-effort translation.
package transcription

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stt-service/internal/models"
	"stt-service/internal/observability/logging"
	"stt-service/internal/schema"
	"stt-service/internal/service/audio"
	"stt-service/internal/service/translation"
)

// Request is one uploaded clip.
type Request struct {
	Audio     io.Reader
	Filename  string
	Language  string
	RequestID string
}

// Normalizer decodes uploads into waveforms.
type Normalizer interface {
	Normalize(ctx context.Context, r io.Reader, filename string) (audio.Waveform, error)
}

// Recognizer turns a waveform into text.
type Recognizer interface {
	Predict(ctx context.Context, w audio.Waveform, language string) (string, error)
}

// Translator renders text into French.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) translation.Result
}

// Publisher receives completion events.
type Publisher interface {
	PublishTranscription(ctx context.Context, event models.TranscriptionCompleted) error
}

const publishTimeout = 5 * time.Second

// Service runs the pipeline.
type Service struct {
	validator   *schema.Validator
	normalizer  Normalizer
	recognizer  Recognizer
	translator  Translator
	publisher   Publisher
	maxDuration time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	pending sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes an event after each successful transcription.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMaxDuration rejects clips longer than d. Zero means no limit.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Service) { s.maxDuration = d }
}

// New returns a Service.
func New(v *schema.Validator, n Normalizer, r Recognizer, t Translator, opts ...Option) *Service {
	s := &Service{
		validator:  v,
		normalizer: n,
		recognizer: r,
		translator: t,
		now:        time.Now,
		logger:     logging.WithComponent("transcription"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the request's filename and language. The gateway calls it
// before reading the upload body.
func (s *Service) Validate(filename, language string) error {
	if err := s.validator.ValidateFilename(filename); err != nil {
		return err
	}
	return s.validator.ValidateLanguage(language)
}

// Transcribe runs normalize, predict and translate. Validation, decode and
// inference failures are returned as *schema.ValidationError,
// *audio.DecodeError and *stt.InferenceError respectively. Translation
// failures only null out the translation field.
func (s *Service) Transcribe(ctx context.Context, req Request) (models.TranscriptionResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := s.logger.With().Str("requestId", req.RequestID).Str("language", req.Language).Logger()

	if err := s.Validate(req.Filename, req.Language); err != nil {
		return models.TranscriptionResult{}, err
	}

	w, err := s.normalizer.Normalize(ctx, req.Audio, req.Filename)
	if err != nil {
		return models.TranscriptionResult{}, err
	}
	if s.maxDuration > 0 && w.DurationTime() > s.maxDuration {
		return models.TranscriptionResult{}, &schema.ValidationError{
			Reason: schema.ReasonTooLong,
			Detail: fmt.Sprintf("Audio is %.1fs long. Maximum: %.0fs", w.Duration(), s.maxDuration.Seconds()),
		}
	}

	text, err := s.recognizer.Predict(ctx, w, req.Language)
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	result := models.TranscriptionResult{
		Transcription: text,
		Language:      req.Language,
		Duration:      w.Duration(),
	}

	tr := s.translator.Translate(ctx, text, req.Language)
	switch {
	case tr.Skipped:
		empty := ""
		result.Translation = &empty
	case tr.Err != nil:
		logger.Warn().Err(tr.Err).Msg("Translation unavailable, returning transcription only")
	default:
		translated := tr.Text
		result.Translation = &translated
	}

	logger.Info().
		Float64("duration", result.Duration).
		Int("chars", len(text)).
		Bool("translated", tr.OK()).
		Msg("Transcription complete")

	s.publish(ctx, req.RequestID, result, tr.OK(), logger)
	return result, nil
}

// Wait blocks until events handed to the publisher have been delivered or
// have failed. Call it before closing the publisher.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) publish(ctx context.Context, requestID string, result models.TranscriptionResult, translated bool, logger zerolog.Logger) {
	if s.publisher == nil {
		return
	}
	event := models.TranscriptionCompleted{
		EventType:       models.EventTypeTranscriptionCompleted,
		RequestID:       requestID,
		Language:        result.Language,
		DurationSeconds: result.Duration,
		Transcription:   result.Transcription,
		Translated:      translated,
		Timestamp:       s.now().UnixMilli(),
	}
	if result.Translation != nil {
		event.Translation = *result.Translation
	}

	// Delivery runs after the response and outlives the client connection.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		if err := s.publisher.PublishTranscription(pctx, event); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish transcription event")
		}
	}()
}
