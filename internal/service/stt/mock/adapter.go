// Package mock provides a deterministic recognition model for local runs and
// tests without a GPU or an inference server.
//
// Forward emits frame logits that spell a fixed utterance per language when
// the input carries energy, and all-blank frames for silence, so the full
// engine path (adapter switch, forward, CTC decode) is exercised.
package mock

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"stt-service/internal/service/stt"
)

// FrameStride is the number of input samples per output frame (20 ms at
// 16 kHz), matching wav2vec2's convolutional stride.
const FrameStride = 320

// silenceRMS is the input level below which Forward emits only blanks.
const silenceRMS = 1e-3

// DefaultUtterances are the phrases the mock "recognizes" per language.
var DefaultUtterances = map[string]string{
	"wol": "na nga def",
	"ful": "jam na ngoo",
	"fuf": "on jaraama",
}

// Model implements stt.Model.
type Model struct {
	mu         sync.Mutex
	utterances map[string]string
	vocabs     map[string]*stt.Vocabulary

	// OutOfMemoryOn makes Load fail with stt.ErrOutOfMemory for a device.
	OutOfMemoryOn map[stt.Device]bool

	device    stt.Device
	active    string
	forwards  int
	adapterOf []string
}

// New returns a mock model recognizing DefaultUtterances.
func New() *Model {
	return NewWithUtterances(DefaultUtterances)
}

// NewWithUtterances returns a mock model recognizing the given phrases.
func NewWithUtterances(utterances map[string]string) *Model {
	m := &Model{
		utterances: make(map[string]string, len(utterances)),
		vocabs:     make(map[string]*stt.Vocabulary, len(utterances)),
	}
	for lang, phrase := range utterances {
		m.utterances[lang] = phrase
		m.vocabs[lang] = buildVocabulary(phrase)
	}
	return m
}

// Load records the device.
func (m *Model) Load(ctx context.Context, device stt.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OutOfMemoryOn[device] {
		return fmt.Errorf("allocate weights on %s: %w", device, stt.ErrOutOfMemory)
	}
	m.device = device
	return nil
}

// LoadAdapter switches the active language.
func (m *Model) LoadAdapter(ctx context.Context, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.utterances[language]; !ok {
		return fmt.Errorf("%w: %s", stt.ErrUnknownLanguage, language)
	}
	m.active = language
	return nil
}

// Forward spells the active language's phrase, one character per frame
// separated by blanks, when samples are not silent.
func (m *Model) Forward(ctx context.Context, samples []float32, sampleRate int) (stt.Logits, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	lang := m.active
	m.forwards++
	m.adapterOf = append(m.adapterOf, lang)
	m.mu.Unlock()

	if lang == "" {
		return nil, fmt.Errorf("no adapter loaded")
	}
	vocab := m.vocabs[lang]

	frames := len(samples) / FrameStride
	logits := make(stt.Logits, frames)
	for i := range logits {
		logits[i] = oneHot(vocab.Size(), vocab.Blank())
	}
	if rms(samples) < silenceRMS {
		return logits, nil
	}

	frame := 0
	for _, r := range m.utterances[lang] {
		if frame >= frames {
			break
		}
		tok := string(r)
		if r == ' ' {
			tok = stt.TokenWordDelimiter
		}
		logits[frame] = oneHot(vocab.Size(), vocab.ID(tok))
		frame += 2
	}
	return logits, nil
}

// Vocabulary returns the per-language token table.
func (m *Model) Vocabulary(language string) (*stt.Vocabulary, error) {
	v, ok := m.vocabs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stt.ErrUnknownLanguage, language)
	}
	return v, nil
}

// Device returns the device passed to the last successful Load.
func (m *Model) Device() stt.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Forwards returns how many forward passes ran.
func (m *Model) Forwards() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forwards
}

// ForwardAdapters returns the active adapter seen by each forward pass.
func (m *Model) ForwardAdapters() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.adapterOf...)
}

func buildVocabulary(phrase string) *stt.Vocabulary {
	ids := map[string]int{
		stt.TokenPad:           0,
		stt.TokenBOS:           1,
		stt.TokenEOS:           2,
		stt.TokenUnknown:       3,
		stt.TokenWordDelimiter: 4,
	}
	var chars []string
	for _, r := range strings.ReplaceAll(phrase, " ", "") {
		if _, ok := ids[string(r)]; !ok {
			ids[string(r)] = -1
			chars = append(chars, string(r))
		}
	}
	sort.Strings(chars)
	for i, c := range chars {
		ids[c] = 5 + i
	}

	v, err := stt.NewVocabulary(ids)
	if err != nil {
		panic(fmt.Sprintf("mock vocabulary: %v", err))
	}
	return v
}

func oneHot(size, idx int) []float32 {
	row := make([]float32, size)
	row[idx] = 1
	return row
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sq float64
	for _, s := range samples {
		sq += float64(s) * float64(s)
	}
	return math.Sqrt(sq / float64(len(samples)))
}
