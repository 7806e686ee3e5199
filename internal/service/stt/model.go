// Package stt defines the recognition model boundary and the engine that
// serializes access to a single shared model instance.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Device names the compute device a model is placed on.
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// ParseDevice maps a configuration string to a Device, defaulting to cuda.
func ParseDevice(s string) Device {
	switch Device(s) {
	case DeviceCPU:
		return DeviceCPU
	default:
		return DeviceCUDA
	}
}

var (
	// ErrNotInitialized is returned by Predict before Load has completed.
	ErrNotInitialized = errors.New("recognition model not initialized")

	// ErrOutOfMemory is reported by a Model when the device rejects the
	// allocation. The engine retries on the CPU when it sees it.
	ErrOutOfMemory = errors.New("device out of memory")

	// ErrUnknownLanguage is reported when no adapter or vocabulary exists
	// for a language.
	ErrUnknownLanguage = errors.New("no adapter for language")

	ErrSampleRate = errors.New("unsupported sample rate")
)

// Logits holds per-frame scores over a vocabulary: Logits[frame][token].
type Logits [][]float32

// Model is a pretrained CTC acoustic model with swappable per-language
// adapters. Implementations are not required to be safe for concurrent use;
// Engine serializes every call after Load.
type Model interface {
	// Load places the weights on device.
	Load(ctx context.Context, device Device) error

	// LoadAdapter makes language the active adapter.
	LoadAdapter(ctx context.Context, language string) error

	// Forward runs the active adapter over mono samples at sampleRate.
	Forward(ctx context.Context, samples []float32, sampleRate int) (Logits, error)

	// Vocabulary returns the token table used to decode language's logits.
	Vocabulary(language string) (*Vocabulary, error)
}

// InferenceError wraps any failure inside Predict.
type InferenceError struct {
	Language string
	Op       string
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s failed for %q: %v", e.Op, e.Language, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}
