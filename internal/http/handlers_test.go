package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stt-service/internal/observability/metrics"
	"stt-service/internal/schema"
	"stt-service/internal/service/audio"
	"stt-service/internal/service/stt"
	"stt-service/internal/service/stt/mock"
	"stt-service/internal/service/transcription"
	"stt-service/internal/service/translation"
)

type countingDecoder struct {
	inner audio.Decoder
	calls atomic.Int32
}

func (d *countingDecoder) Decode(ctx context.Context, path string, rate int) ([]float32, error) {
	d.calls.Add(1)
	return d.inner.Decode(ctx, path, rate)
}

type stubProvider struct {
	calls atomic.Int32
	out   string
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.calls.Add(1)
	return p.out, p.err
}

type testEnv struct {
	handler  http.Handler
	engine   *stt.Engine
	decoder  *countingDecoder
	provider *stubProvider
	scratch  string
}

func newTestEnv(t *testing.T, load bool) *testEnv {
	t.Helper()
	m := metrics.NewMetrics(nil)
	env := &testEnv{
		decoder:  &countingDecoder{inner: audio.NewAutoDecoder("")},
		provider: &stubProvider{out: "Comment vas-tu ?"},
		scratch:  t.TempDir(),
	}

	env.engine = stt.NewEngine(mock.New(), stt.WithEngineMetrics(m))
	if load {
		require.NoError(t, env.engine.Load(context.Background()))
	}

	norm := audio.NewNormalizer(env.decoder, audio.WithScratchDir(env.scratch), audio.WithMetrics(m))
	tr := translation.NewService(env.provider, translation.WithMetrics(m))
	svc := transcription.New(schema.New([]string{"wol", "ful"}), norm, env.engine, tr)

	env.handler = NewRouter(NewHandler(svc, env.engine, 1<<20, m), m)
	return env
}

func wavBytes(t *testing.T, seconds float64, amplitude float64) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*audio.TargetSampleRate))
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*330*float64(i)/audio.TargetSampleRate))
	}
	var buf bytes.Buffer
	require.NoError(t, audio.WriteWAV16(&buf, samples, audio.TargetSampleRate))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, filename string, content []byte, language string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/stt/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func (e *testEnv) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must not outlive the request")
}

func TestTranscribe_SilentWAV(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "silence.wav", wavBytes(t, 2, 0), "wol"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	transcriptionText, ok := body["transcription"].(string)
	require.True(t, ok, "transcription must be a string")
	assert.Empty(t, transcriptionText)
	assert.Equal(t, "wol", body["language"])
	assert.InDelta(t, 2.0, body["duration"], 1e-3)

	translated, ok := body["translation"].(string)
	require.True(t, ok, "translation must be a string when nothing was translated")
	assert.Empty(t, translated)
	assert.Zero(t, env.provider.calls.Load(), "empty transcription must not reach the provider")
	env.assertScratchEmpty(t)
}

func TestTranscribe_SpeechIsTranslated(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "greeting.WAV", wavBytes(t, 2, 0.4), "wol"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mock.DefaultUtterances["wol"], body["transcription"])
	assert.Equal(t, "Comment vas-tu ?", body["translation"])
	assert.EqualValues(t, 1, env.provider.calls.Load())
	assert.Equal(t, "wol", env.engine.ActiveAdapter())
}

func TestTranscribe_TranslationFailureReturnsNull(t *testing.T) {
	env := newTestEnv(t, true)
	env.provider.err = errors.New("gemini: 429 resource exhausted")

	rec, body := env.do(multipartRequest(t, "greeting.wav", wavBytes(t, 2, 0.4), "ful"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, mock.DefaultUtterances["ful"], body["transcription"])
	v, present := body["translation"]
	assert.True(t, present, "translation key must be present")
	assert.Nil(t, v)
}

func TestTranscribe_UnsupportedExtension(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "clip.txt", []byte("hello"), "wol"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	detail, _ := body["detail"].(string)
	assert.Contains(t, detail, ".wav, .mp3, .webm, .ogg, .mp2")
	assert.Equal(t, schema.ReasonUnsupportedExtension, body["code"])
	assert.Zero(t, env.decoder.calls.Load(), "decode must not be attempted")
	env.assertScratchEmpty(t)
}

func TestTranscribe_UnsupportedLanguage(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "clip.mp3", []byte("ID3"), "xyz"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["detail"], "xyz")
	assert.Zero(t, env.decoder.calls.Load())
}

func TestTranscribe_MissingFile(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "", nil, "wol"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, schema.ReasonMissingFile, body["code"])
}

func TestTranscribe_NotMultipart(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/stt/transcribe", strings.NewReader(`{"language":"wol"}`))
	req.Header.Set("Content-Type", "application/json")
	rec, body := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeBadRequest, body["code"])
}

func TestTranscribe_TooLarge(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "long.wav", make([]byte, 2<<20), "wol"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, schema.ReasonTooLarge, body["code"])
	assert.Zero(t, env.decoder.calls.Load())
}

func TestTranscribe_CorruptAudio(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(multipartRequest(t, "broken.wav", []byte("definitely not RIFF"), "wol"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeDecodeFailed, body["code"])
	assert.NotContains(t, body["detail"], "RIFF", "internals must not leak")
	assert.EqualValues(t, 1, env.decoder.calls.Load())
	env.assertScratchEmpty(t)
}

func TestTranscribe_ModelNotLoaded(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(multipartRequest(t, "greeting.wav", wavBytes(t, 1, 0.4), "wol"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInferenceFailed, body["code"])
	env.assertScratchEmpty(t)
}

func TestHealth(t *testing.T) {
	for _, loaded := range []bool{false, true} {
		env := newTestEnv(t, loaded)

		rec, body := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, loaded, body["model_loaded"])
	}
}

func TestReadinessProbe(t *testing.T) {
	env := newTestEnv(t, false)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, env.engine.Load(context.Background()))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
