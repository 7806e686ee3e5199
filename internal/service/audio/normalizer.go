package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stt-service/internal/observability/logging"
	"stt-service/internal/observability/metrics"
)

// Normalizer persists an upload to scratch storage, decodes it and removes
// every scratch file before returning.
type Normalizer struct {
	decoder    Decoder
	scratchDir string
	sampleRate int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithScratchDir sets where uploads are written. Defaults to os.TempDir().
func WithScratchDir(dir string) Option {
	return func(n *Normalizer) { n.scratchDir = dir }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// NewNormalizer returns a Normalizer using decoder.
func NewNormalizer(decoder Decoder, opts ...Option) *Normalizer {
	n := &Normalizer{
		decoder:    decoder,
		sampleRate: TargetSampleRate,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("audio"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize decodes r into a mono waveform. filename only supplies the
// extension, which is kept on the scratch file so the decoder can pick a
// codec. Decode failures are returned as *DecodeError.
func (n *Normalizer) Normalize(ctx context.Context, r io.Reader, filename string) (Waveform, error) {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".tmp"
	}
	format := strings.TrimPrefix(strings.ToLower(ext), ".")

	path, size, err := n.persist(r, ext)
	if path != "" {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				n.logger.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove scratch file")
			}
		}()
	}
	if err != nil {
		return Waveform{}, err
	}
	n.metrics.RecordAudioReceived(size)

	start := time.Now()
	samples, err := n.decoder.Decode(ctx, path, n.sampleRate)
	if err == nil && len(samples) == 0 {
		err = ErrEmptyAudio
	}
	if err != nil {
		n.metrics.RecordDecode(format, err, time.Since(start).Seconds(), 0)
		n.logger.Error().Err(err).Str("format", format).Int64("bytes", size).Msg("Audio decode failed")
		return Waveform{}, &DecodeError{Format: format, Err: err}
	}

	w := Waveform{Samples: samples, SampleRate: n.sampleRate}
	n.metrics.RecordDecode(format, nil, time.Since(start).Seconds(), w.Duration())
	n.logger.Debug().
		Str("format", format).
		Int64("bytes", size).
		Int("samples", len(samples)).
		Float64("duration", w.Duration()).
		Msg("Audio normalized")
	return w, nil
}

// persist copies r to a new scratch file. The returned path is non-empty
// whenever a file was created, even on error, so the caller can remove it.
func (n *Normalizer) persist(r io.Reader, ext string) (string, int64, error) {
	f, err := os.CreateTemp(n.scratchDir, "stt-upload-*"+ext)
	if err != nil {
		return "", 0, fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return path, size, fmt.Errorf("write scratch file: %w", err)
	}
	return path, size, nil
}
