package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"stt-service/internal/service/stt"
)

func tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}

func TestModel_SpellsUtterance(t *testing.T) {
	ctx := context.Background()
	m := New()

	for lang, want := range DefaultUtterances {
		if err := m.LoadAdapter(ctx, lang); err != nil {
			t.Fatalf("LoadAdapter(%s): %v", lang, err)
		}
		logits, err := m.Forward(ctx, tone(32000), 16000)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		if len(logits) != 32000/FrameStride {
			t.Errorf("frames = %d, want %d", len(logits), 32000/FrameStride)
		}

		vocab, err := m.Vocabulary(lang)
		if err != nil {
			t.Fatalf("Vocabulary: %v", err)
		}
		got, err := stt.GreedyDecode(logits, vocab)
		if err != nil {
			t.Fatalf("GreedyDecode: %v", err)
		}
		if got != want {
			t.Errorf("%s: decoded %q, want %q", lang, got, want)
		}
	}
}

func TestModel_SilenceIsBlank(t *testing.T) {
	ctx := context.Background()
	m := New()
	_ = m.LoadAdapter(ctx, "wol")

	logits, err := m.Forward(ctx, make([]float32, 32000), 16000)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	vocab, _ := m.Vocabulary("wol")
	got, _ := stt.GreedyDecode(logits, vocab)
	if got != "" {
		t.Errorf("silence decoded to %q", got)
	}
}

func TestModel_ShortInputTruncates(t *testing.T) {
	ctx := context.Background()
	m := NewWithUtterances(map[string]string{"wol": "abcdef"})
	_ = m.LoadAdapter(ctx, "wol")

	// Three frames fit "a", blank, "b".
	logits, err := m.Forward(ctx, tone(3*FrameStride), 16000)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	vocab, _ := m.Vocabulary("wol")
	got, _ := stt.GreedyDecode(logits, vocab)
	if got != "ab" {
		t.Errorf("decoded %q, want %q", got, "ab")
	}
}

func TestModel_UnknownLanguage(t *testing.T) {
	m := New()
	err := m.LoadAdapter(context.Background(), "xyz")
	if !errors.Is(err, stt.ErrUnknownLanguage) {
		t.Errorf("expected ErrUnknownLanguage, got %v", err)
	}
	if _, err := m.Vocabulary("xyz"); !errors.Is(err, stt.ErrUnknownLanguage) {
		t.Errorf("expected ErrUnknownLanguage, got %v", err)
	}
}

func TestModel_ForwardWithoutAdapter(t *testing.T) {
	m := New()
	if _, err := m.Forward(context.Background(), tone(1600), 16000); err == nil {
		t.Error("expected error when no adapter is loaded")
	}
}

func TestModel_OutOfMemory(t *testing.T) {
	m := New()
	m.OutOfMemoryOn = map[stt.Device]bool{stt.DeviceCUDA: true}

	err := m.Load(context.Background(), stt.DeviceCUDA)
	if !errors.Is(err, stt.ErrOutOfMemory) {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}
	if err := m.Load(context.Background(), stt.DeviceCPU); err != nil {
		t.Fatalf("cpu load: %v", err)
	}
	if m.Device() != stt.DeviceCPU {
		t.Errorf("device = %s, want cpu", m.Device())
	}
}

func TestModel_TracksForwardAdapters(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, lang := range []string{"wol", "ful", "wol"} {
		_ = m.LoadAdapter(ctx, lang)
		_, _ = m.Forward(ctx, tone(FrameStride), 16000)
	}
	if m.Forwards() != 3 {
		t.Errorf("Forwards() = %d, want 3", m.Forwards())
	}
	got := m.ForwardAdapters()
	want := []string{"wol", "ful", "wol"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ForwardAdapters()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New()
	_ = m.LoadAdapter(context.Background(), "wol")
	if _, err := m.Forward(ctx, tone(FrameStride), 16000); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
