package stt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stt-service/internal/observability/logging"
	"stt-service/internal/observability/metrics"
	"stt-service/internal/service/audio"
)

// Engine owns the single shared Model. Adapter switch, forward pass and
// decoding for one request run as a unit under one lock; nothing else is
// serialized.
type Engine struct {
	model     Model
	modelID   string
	provider  string
	preferred Device

	// sem is a one-slot semaphore used as the engine mutex so waiters can
	// give up when their request is cancelled.
	sem    chan struct{}
	loadMu sync.Mutex
	loaded atomic.Bool
	device atomic.Value // Device
	active atomic.Value // string

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDevice sets the preferred device. Defaults to cuda.
func WithDevice(d Device) EngineOption {
	return func(e *Engine) { e.preferred = d }
}

// WithModelID sets the identifier used in logs.
func WithModelID(id string) EngineOption {
	return func(e *Engine) { e.modelID = id }
}

// WithProvider names the backend in logs.
func WithProvider(name string) EngineOption {
	return func(e *Engine) { e.provider = name }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wraps model. The engine is unusable until Load succeeds.
func NewEngine(model Model, opts ...EngineOption) *Engine {
	e := &Engine{
		model:     model,
		preferred: DeviceCUDA,
		sem:       make(chan struct{}, 1),
		metrics:   metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.device.Store(Device(""))
	e.active.Store("")
	e.logger = logging.WithModel(e.modelID, e.provider)
	return e
}

// Load places the model on the preferred device, falling back to the CPU
// when the accelerator runs out of memory. Calling Load again after success
// is a no-op.
func (e *Engine) Load(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.loaded.Load() {
		return nil
	}

	start := time.Now()
	device := e.preferred
	err := e.model.Load(ctx, device)
	if err != nil && errors.Is(err, ErrOutOfMemory) && device != DeviceCPU {
		e.logger.Warn().Err(err).Str("device", string(device)).Msg("Accelerator out of memory, falling back to CPU")
		device = DeviceCPU
		err = e.model.Load(ctx, device)
	}
	if err != nil {
		return fmt.Errorf("load model %s on %s: %w", e.modelID, device, err)
	}

	e.device.Store(device)
	e.loaded.Store(true)
	e.metrics.SetModelLoaded(true)
	e.logger.Info().
		Str("device", string(device)).
		Dur("elapsed", time.Since(start)).
		Msg("Recognition model loaded")
	return nil
}

// Loaded reports whether Load has completed.
func (e *Engine) Loaded() bool {
	return e.loaded.Load()
}

// Device returns the device the model ended up on, empty before Load.
func (e *Engine) Device() Device {
	return e.device.Load().(Device)
}

// ActiveAdapter returns the language of the most recently applied adapter.
func (e *Engine) ActiveAdapter() string {
	return e.active.Load().(string)
}

// Predict transcribes w in language. Errors are *InferenceError.
func (e *Engine) Predict(ctx context.Context, w audio.Waveform, language string) (string, error) {
	if !e.loaded.Load() {
		e.metrics.RecordInferenceError(language, "not_initialized")
		return "", &InferenceError{Language: language, Op: "predict", Err: ErrNotInitialized}
	}
	if w.SampleRate != audio.TargetSampleRate {
		e.metrics.RecordInferenceError(language, "sample_rate")
		return "", &InferenceError{Language: language, Op: "predict", Err: fmt.Errorf("%w: %d Hz, model expects %d Hz", ErrSampleRate, w.SampleRate, audio.TargetSampleRate)}
	}

	waitStart := time.Now()
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.metrics.RecordInferenceError(language, "cancelled")
		return "", &InferenceError{Language: language, Op: "acquire", Err: ctx.Err()}
	}
	defer func() { <-e.sem }()
	lockWait := time.Since(waitStart)

	start := time.Now()
	text, op, err := e.predictLocked(ctx, w, language)
	if err != nil {
		e.metrics.RecordInferenceError(language, op)
		e.logger.Error().Err(err).Str("language", language).Str("op", op).Msg("Inference failed")
		return "", &InferenceError{Language: language, Op: op, Err: err}
	}

	latency := time.Since(start)
	e.metrics.RecordInference(language, lockWait.Seconds(), latency.Seconds())
	e.logger.Debug().
		Str("language", language).
		Dur("lockWait", lockWait).
		Dur("latency", latency).
		Int("chars", len(text)).
		Msg("Inference complete")
	return text, nil
}

func (e *Engine) predictLocked(ctx context.Context, w audio.Waveform, language string) (string, string, error) {
	if err := e.model.LoadAdapter(ctx, language); err != nil {
		e.active.Store("")
		return "", "adapter", err
	}
	e.active.Store(language)

	vocab, err := e.model.Vocabulary(language)
	if err != nil {
		return "", "vocabulary", err
	}

	logits, err := e.model.Forward(ctx, NormalizeInput(w.Samples), w.SampleRate)
	if err != nil {
		return "", "forward", err
	}

	text, err := GreedyDecode(logits, vocab)
	if err != nil {
		return "", "decode", err
	}
	return text, "", nil
}

// NormalizeInput applies zero-mean unit-variance scaling, the feature
// extraction wav2vec2 checkpoints expect. Silence stays all zeros.
func NormalizeInput(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	std := math.Sqrt(sq/float64(len(samples)) + 1e-7)

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32((float64(s) - mean) / std)
	}
	return out
}
