// Package translation turns recognized text into French through a hosted
// generative model. Translation is best-effort: failures come back inside a
// Result instead of failing the caller.
package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stt-service/internal/observability/logging"
	"stt-service/internal/observability/metrics"
)

var (
	// ErrDisabled is returned by the "none" provider.
	ErrDisabled = errors.New("translation disabled")

	// ErrEmptyResponse is reported when the provider returns no text.
	ErrEmptyResponse = errors.New("empty translation response")
)

// Provider performs a single text generation call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Result is the outcome of Translate. Err is set when the provider call
// failed; Skipped is set when there was nothing to translate.
type Result struct {
	Text    string
	Err     error
	Skipped bool
}

// OK reports whether Text holds a usable translation.
func (r Result) OK() bool {
	return r.Err == nil && !r.Skipped
}

// languageNames maps language codes to the names used in the prompt.
var languageNames = map[string]string{
	"wol": "Wolof",
	"fuf": "Pular (Fula)",
	"ful": "Pular (Fula)",
	"fra": "French",
}

// LanguageName returns the display name for code, or code itself.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

const promptTemplate = "T'es expert en poular et wolof. Traduis le texte suivant du %s vers le Français. " +
	"Donne uniquement la traduction, sans texte introductif ni guillemets.\n\nTexte: %s"

// BuildPrompt returns the instruction sent to the provider.
func BuildPrompt(text, sourceLang string) string {
	return fmt.Sprintf(promptTemplate, LanguageName(sourceLang), text)
}

// Service wraps a Provider with a timeout, logging and metrics.
type Service struct {
	provider Provider
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service calling provider.
func NewService(provider Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		timeout:  15 * time.Second,
		metrics:  metrics.DefaultMetrics,
		logger:   logging.WithComponent("translation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the configured provider name.
func (s *Service) Provider() string {
	return s.provider.Name()
}

// Translate renders text from sourceLang into French. Empty or whitespace
// text never reaches the provider.
func (s *Service) Translate(ctx context.Context, text, sourceLang string) Result {
	if strings.TrimSpace(text) == "" {
		s.metrics.RecordTranslationSkipped()
		return Result{Skipped: true}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.generate(ctx, BuildPrompt(text, sourceLang))
	latency := time.Since(start)

	if err == nil {
		out = strings.TrimSpace(out)
		if out == "" {
			err = ErrEmptyResponse
		}
	}
	if err != nil {
		reason := failureReason(err)
		s.metrics.RecordTranslation(s.provider.Name(), reason, latency.Seconds())
		s.logger.Warn().
			Err(err).
			Str("provider", s.provider.Name()).
			Str("sourceLanguage", sourceLang).
			Str("reason", reason).
			Dur("latency", latency).
			Msg("Translation failed")
		return Result{Err: err}
	}

	s.metrics.RecordTranslation(s.provider.Name(), "", latency.Seconds())
	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Str("sourceLanguage", sourceLang).
		Dur("latency", latency).
		Msg("Translation complete")
	return Result{Text: out}
}

// generate converts provider panics into errors.
func (s *Service) generate(ctx context.Context, prompt string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translation provider panicked: %v", r)
		}
	}()
	return s.provider.Generate(ctx, prompt)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	default:
		return "provider_error"
	}
}
