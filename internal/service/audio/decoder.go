package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Decoder turns an audio file into mono samples at sampleRate. The file's
// extension is the primary hint for picking a codec.
type Decoder interface {
	Decode(ctx context.Context, path string, sampleRate int) ([]float32, error)
}

// WAVDecoder decodes RIFF/WAVE files natively.
type WAVDecoder struct{}

func (WAVDecoder) Decode(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	pcm, err := ReadWAV(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Resample(pcm.Mono(), pcm.SampleRate, sampleRate)
}

// FFmpegDecoder converts any container/codec ffmpeg understands.
type FFmpegDecoder struct {
	Executable string
}

// NewFFmpegDecoder returns a decoder running executable, "ffmpeg" when empty.
func NewFFmpegDecoder(executable string) *FFmpegDecoder {
	if strings.TrimSpace(executable) == "" {
		executable = "ffmpeg"
	}
	return &FFmpegDecoder{Executable: executable}
}

// Decode writes a converted WAV next to path and removes it before returning.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	converted := path + "_converted.wav"
	defer os.Remove(converted)

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		converted,
	}
	cmd := exec.CommandContext(ctx, d.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("ffmpeg not available at %q: %w", d.Executable, err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg failed: %w (%s)", err, lastLine(msg))
		}
		return nil, fmt.Errorf("ffmpeg failed: %w", err)
	}

	f, err := os.Open(converted)
	if err != nil {
		return nil, fmt.Errorf("open converted audio: %w", err)
	}
	defer f.Close()

	pcm, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	return Resample(pcm.Mono(), pcm.SampleRate, sampleRate)
}

// AutoDecoder decodes .wav natively and hands everything else to Fallback.
// A .wav the native reader rejects, whether an unsupported encoding or
// content that is not RIFF at all (webm saved as .wav, RF64), also goes to
// Fallback, which detects the container from the content.
type AutoDecoder struct {
	WAV      Decoder
	Fallback Decoder
}

// NewAutoDecoder builds the default decoder chain.
func NewAutoDecoder(ffmpegPath string) *AutoDecoder {
	return &AutoDecoder{
		WAV:      WAVDecoder{},
		Fallback: NewFFmpegDecoder(ffmpegPath),
	}
}

func (d *AutoDecoder) Decode(ctx context.Context, path string, sampleRate int) ([]float32, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") && d.WAV != nil {
		samples, err := d.WAV.Decode(ctx, path, sampleRate)
		if err == nil || d.Fallback == nil || !(errors.Is(err, ErrUnsupportedWAV) || errors.Is(err, ErrInvalidWAV)) {
			return samples, err
		}
	}
	if d.Fallback == nil {
		return nil, fmt.Errorf("no decoder for %s", filepath.Ext(path))
	}
	return d.Fallback.Decode(ctx, path, sampleRate)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
