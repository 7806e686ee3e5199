package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV assembles a WAV file with arbitrary fmt parameters and raw data.
func buildWAV(format, channels uint16, rate uint32, bits uint16, data []byte, extra ...[]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	for _, chunk := range extra {
		buf.Write(chunk)
	}

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, rate)
	blockAlign := channels * bits / 8
	binary.Write(&buf, binary.LittleEndian, rate*uint32(blockAlign))
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bits)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func int16Data(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestReadWAV_PCM16Mono(t *testing.T) {
	raw := buildWAV(wavFormatPCM, 1, 16000, 16, int16Data(0, 16384, -16384, 32767))

	pcm, err := ReadWAV(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, 1, pcm.Channels)
	assert.Equal(t, 16000, pcm.SampleRate)
	require.Len(t, pcm.Samples, 4)
	assert.InDelta(t, 0.0, pcm.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, pcm.Samples[1], 1e-6)
	assert.InDelta(t, -0.5, pcm.Samples[2], 1e-6)
	assert.InDelta(t, 1.0, pcm.Samples[3], 1e-4)
}

func TestReadWAV_StereoDownmix(t *testing.T) {
	raw := buildWAV(wavFormatPCM, 2, 8000, 16, int16Data(16384, 0, -16384, -16384))

	pcm, err := ReadWAV(bytes.NewReader(raw))
	require.NoError(t, err)

	mono := pcm.Mono()
	require.Len(t, mono, 2)
	assert.InDelta(t, 0.25, mono[0], 1e-6)
	assert.InDelta(t, -0.5, mono[1], 1e-6)
}

func TestReadWAV_Float32AndSkippedChunks(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-0.75))

	// An odd-sized LIST chunk exercises the pad byte.
	list := append([]byte("LIST"), 3, 0, 0, 0, 'a', 'b', 'c', 0)
	raw := buildWAV(wavFormatFloat, 1, 44100, 32, data, list)

	pcm, err := ReadWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.75}, pcm.Samples)
	assert.Equal(t, 44100, pcm.SampleRate)
}

func TestReadWAV_PCM24(t *testing.T) {
	// 0x400000 == 0.5 full scale, 0xC00000 == -0.5.
	data := []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0}
	raw := buildWAV(wavFormatPCM, 1, 16000, 24, data)

	pcm, err := ReadWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, pcm.Samples, 2)
	assert.InDelta(t, 0.5, pcm.Samples[0], 1e-6)
	assert.InDelta(t, -0.5, pcm.Samples[1], 1e-6)
}

func TestReadWAV_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrInvalidWAV},
		{"not riff", []byte("OggS0000WAVEfmt "), ErrInvalidWAV},
		{"no data chunk", buildWAV(wavFormatPCM, 1, 16000, 16, nil)[:36], ErrInvalidWAV},
		{"unsupported format", buildWAV(6, 1, 8000, 8, []byte{1, 2}), ErrUnsupportedWAV},
		{"zero channels", buildWAV(wavFormatPCM, 0, 8000, 16, int16Data(1)), ErrInvalidWAV},
		{"oversized fmt chunk", oversizedFmt(0xF0000000), ErrInvalidWAV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadWAV(bytes.NewReader(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

// oversizedFmt is a short file whose fmt chunk claims size bytes.
func oversizedFmt(size uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(44))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, size)
	buf.Write(make([]byte, 24))
	return buf.Bytes()
}

func TestReadWAV_OversizedFmtDoesNotAllocateDeclaredSize(t *testing.T) {
	raw := oversizedFmt(0xF0000000)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := ReadWAV(bytes.NewReader(raw))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrInvalidWAV)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "allocation must not follow the declared chunk size")
}

func TestReadWAV_FmtExtensionIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(50))
	fmtBody := make([]byte, 50)
	binary.LittleEndian.PutUint16(fmtBody[0:], wavFormatPCM)
	binary.LittleEndian.PutUint16(fmtBody[2:], 1)
	binary.LittleEndian.PutUint32(fmtBody[4:], 16000)
	binary.LittleEndian.PutUint32(fmtBody[8:], 32000)
	binary.LittleEndian.PutUint16(fmtBody[12:], 2)
	binary.LittleEndian.PutUint16(fmtBody[14:], 16)
	buf.Write(fmtBody)
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.Write(int16Data(16384, -16384))

	pcm, err := ReadWAV(&buf)
	require.NoError(t, err)
	require.Len(t, pcm.Samples, 2)
	assert.InDelta(t, 0.5, pcm.Samples[0], 1e-6)
}

func TestWriteWAV16_RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 2, -2}
	var buf bytes.Buffer
	require.NoError(t, WriteWAV16(&buf, in, 16000))

	pcm, err := ReadWAV(&buf)
	require.NoError(t, err)
	require.Len(t, pcm.Samples, len(in))
	assert.InDelta(t, 0.5, pcm.Samples[1], 1e-3)
	assert.InDelta(t, 1.0, pcm.Samples[3], 1e-3)
	assert.InDelta(t, -1.0, pcm.Samples[4], 1e-3)
}

func TestResample_Lengths(t *testing.T) {
	src := make([]float32, 44100)
	for i := range src {
		src[i] = float32(0.1 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}

	out, err := Resample(src, 44100, 16000)
	require.NoError(t, err)
	assert.Len(t, out, 16000)

	up, err := Resample(make([]float32, 8000), 8000, 16000)
	require.NoError(t, err)
	assert.Len(t, up, 16000)

	same, err := Resample(src, 16000, 16000)
	require.NoError(t, err)
	assert.Len(t, same, len(src))

	_, err = Resample(src, 0, 16000)
	assert.Error(t, err)
}

func TestResample_KeepsTail(t *testing.T) {
	src := make([]float32, 44100)
	for i := range src {
		src[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/44100))
	}

	out, err := Resample(src, 44100, 16000)
	require.NoError(t, err)
	require.Len(t, out, 16000)

	// Last 10 ms of a steady tone.
	var energy float64
	zeros := 0
	for _, s := range out[len(out)-160:] {
		energy += float64(s) * float64(s)
		if s == 0 {
			zeros++
		}
	}
	rms := math.Sqrt(energy / 160)
	assert.Greater(t, rms, 0.1, "tail of a resampled tone must not be silent")
	assert.Less(t, zeros, 5)
}
