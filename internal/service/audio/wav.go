package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrUnsupportedWAV = errors.New("unsupported wav format")
	ErrInvalidWAV     = errors.New("invalid wav file")
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE

	// WAVE_FORMAT_EXTENSIBLE fmt chunks are 40 bytes.
	fmtMaxRead = 40
)

// PCM is decoded interleaved audio before normalization.
type PCM struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// Mono averages interleaved channels into one.
func (p PCM) Mono() []float32 {
	if p.Channels <= 1 {
		return p.Samples
	}
	frames := len(p.Samples) / p.Channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < p.Channels; c++ {
			sum += p.Samples[i*p.Channels+c]
		}
		out[i] = sum / float32(p.Channels)
	}
	return out
}

// ReadWAV parses a RIFF/WAVE stream holding integer PCM (8/16/24/32-bit) or
// IEEE float (32/64-bit) samples.
func ReadWAV(r io.Reader) (PCM, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return PCM{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
		}
		return PCM{}, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return PCM{}, ErrInvalidWAV
	}

	var (
		audioFormat   uint16
		channels      uint16
		sampleRate    uint32
		bitsPerSample uint16
		data          []byte
		hasFmt        bool
		hasData       bool
	)

	for !hasData {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(r, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return PCM{}, fmt.Errorf("read wav chunk header: %w", err)
		}
		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return PCM{}, ErrInvalidWAV
			}
			// Only the first fmtMaxRead bytes matter; the size comes from
			// the upload and must not drive the allocation.
			buf := make([]byte, min(chunkSize, fmtMaxRead))
			if _, err := io.ReadFull(r, buf); err != nil {
				return PCM{}, fmt.Errorf("%w: read fmt chunk: %v", ErrInvalidWAV, err)
			}
			if rest := int64(chunkSize) - int64(len(buf)); rest > 0 {
				if _, err := io.CopyN(io.Discard, r, rest); err != nil {
					return PCM{}, fmt.Errorf("%w: skip fmt extension: %v", ErrInvalidWAV, err)
				}
			}
			audioFormat = binary.LittleEndian.Uint16(buf[0:2])
			channels = binary.LittleEndian.Uint16(buf[2:4])
			sampleRate = binary.LittleEndian.Uint32(buf[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
			if audioFormat == wavFormatExtensible && chunkSize >= 26 {
				// First two bytes of the SubFormat GUID carry the real format.
				audioFormat = binary.LittleEndian.Uint16(buf[24:26])
			}
			hasFmt = true
			if err := skipPad(r, chunkSize); err != nil {
				return PCM{}, err
			}
		case "data":
			if !hasFmt {
				return PCM{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			// Streamed WAVs may carry a placeholder size; read what exists.
			var err error
			data, err = io.ReadAll(io.LimitReader(r, int64(chunkSize)))
			if err != nil {
				return PCM{}, fmt.Errorf("read wav data chunk: %w", err)
			}
			hasData = true
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return PCM{}, fmt.Errorf("%w: skip %q chunk: %v", ErrInvalidWAV, chunkID, err)
			}
			if err := skipPad(r, chunkSize); err != nil {
				return PCM{}, err
			}
		}
	}

	if !hasFmt || !hasData {
		return PCM{}, ErrInvalidWAV
	}
	if channels == 0 || sampleRate == 0 {
		return PCM{}, ErrInvalidWAV
	}

	samples, err := convertSamples(data, audioFormat, bitsPerSample)
	if err != nil {
		return PCM{}, err
	}
	// Drop a trailing partial frame.
	samples = samples[:len(samples)/int(channels)*int(channels)]

	return PCM{
		Samples:    samples,
		Channels:   int(channels),
		SampleRate: int(sampleRate),
	}, nil
}

func skipPad(r io.Reader, chunkSize uint32) error {
	if chunkSize%2 == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, 1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("skip wav padding: %w", err)
	}
	return nil
}

func convertSamples(data []byte, format, bits uint16) ([]float32, error) {
	switch {
	case format == wavFormatPCM && bits == 8:
		out := make([]float32, len(data))
		for i, b := range data {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil
	case format == wavFormatPCM && bits == 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
		}
		return out, nil
	case format == wavFormatPCM && bits == 24:
		n := len(data) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b := data[i*3 : i*3+3]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		}
		return out, nil
	case format == wavFormatPCM && bits == 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(data[i*4:]))) / 2147483648)
		}
		return out, nil
	case format == wavFormatFloat && bits == 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil
	case format == wavFormatFloat && bits == 64:
		n := len(data) / 8
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, format, bits)
	}
}

// WriteWAV16 encodes mono samples as 16-bit PCM WAV.
func WriteWAV16(w io.Writer, samples []float32, sampleRate int) error {
	dataSize := uint32(len(samples) * 2)
	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(header[22:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(header[32:34], 2)
	binary.LittleEndian.PutUint16(header[34:36], 16)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
	}
	_, err := w.Write(buf)
	return err
}
