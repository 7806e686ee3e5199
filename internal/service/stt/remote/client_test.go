package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stt-service/internal/service/stt"
)

type fakeServer struct {
	mu       sync.Mutex
	loads    []map[string]string
	paths    []string
	oom      bool
	lastIn   tensor
	response inferResponse
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/repository/models/", func(w http.ResponseWriter, r *http.Request) {
		var req repositoryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.loads = append(f.loads, req.Parameters)
		f.paths = append(f.paths, r.URL.EscapedPath())
		oom := f.oom && req.Parameters["device"] == "cuda"
		f.mu.Unlock()
		if oom {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"CUDA out of memory. Tried to allocate 3.8 GiB"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v2/models/", func(w http.ResponseWriter, r *http.Request) {
		var req inferRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.lastIn = req.Inputs[0]
		f.paths = append(f.paths, r.URL.EscapedPath())
		resp := f.response
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func testVocabs(t *testing.T) map[string]*stt.Vocabulary {
	t.Helper()
	v, err := stt.NewVocabulary(map[string]int{stt.TokenPad: 0, stt.TokenWordDelimiter: 1, "a": 2})
	require.NoError(t, err)
	return map[string]*stt.Vocabulary{"wol": v}
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", ModelID: "facebook/mms-1b-all", Vocabularies: testVocabs(t)})
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Vocabularies: testVocabs(t)})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestClient_LoadAndAdapter(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.Load(ctx, stt.DeviceCPU))
	require.NoError(t, c.LoadAdapter(ctx, "wol"))

	require.Len(t, f.loads, 2)
	assert.Equal(t, "cpu", f.loads[0]["device"])
	assert.Equal(t, "wol", f.loads[1]["target_lang"])
	assert.Equal(t, "/v2/repository/models/facebook%2Fmms-1b-all/load", f.paths[0])
}

func TestClient_LoadAdapterUnknownLanguage(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	err := c.LoadAdapter(context.Background(), "xyz")
	assert.ErrorIs(t, err, stt.ErrUnknownLanguage)
	assert.Empty(t, f.loads, "no request for unknown languages")
}

func TestClient_OutOfMemoryIsRecognized(t *testing.T) {
	f := &fakeServer{oom: true}
	c := newTestClient(t, f)

	err := c.Load(context.Background(), stt.DeviceCUDA)
	assert.True(t, errors.Is(err, stt.ErrOutOfMemory), "got %v", err)
	assert.Contains(t, err.Error(), "CUDA out of memory")

	// Works end to end with the engine fallback.
	e := stt.NewEngine(c)
	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, stt.DeviceCPU, e.Device())
}

func TestClient_Forward(t *testing.T) {
	f := &fakeServer{response: inferResponse{
		ModelName: "facebook/mms-1b-all",
		Outputs: []tensor{{
			Name:     "logits",
			Shape:    []int{1, 4, 3},
			Datatype: "FP32",
			Data: []float32{
				0, 0, 1,
				1, 0, 0,
				0, 0, 1,
				0, 1, 0,
			},
		}},
	}}
	c := newTestClient(t, f)

	logits, err := c.Forward(context.Background(), []float32{0.1, 0.2, 0.3}, 16000)
	require.NoError(t, err)
	require.Len(t, logits, 4)

	assert.Equal(t, inputName, f.lastIn.Name)
	assert.Equal(t, []int{1, 3}, f.lastIn.Shape)
	assert.Equal(t, "FP32", f.lastIn.Datatype)
	assert.Equal(t, "/v2/models/facebook%2Fmms-1b-all/infer", f.paths[len(f.paths)-1])

	vocab, err := c.Vocabulary("wol")
	require.NoError(t, err)
	text, err := stt.GreedyDecode(logits, vocab)
	require.NoError(t, err)
	assert.Equal(t, "aa", text)
}

func TestClient_ForwardMissingOutput(t *testing.T) {
	f := &fakeServer{response: inferResponse{Outputs: []tensor{{Name: "other", Shape: []int{1, 1}, Data: []float32{1}}}}}
	c := newTestClient(t, f)

	_, err := c.Forward(context.Background(), []float32{0}, 16000)
	assert.Error(t, err)
}

func TestReshape(t *testing.T) {
	_, err := reshape(tensor{Shape: []int{1, 2, 2}, Data: []float32{1, 2, 3}})
	assert.Error(t, err, "size mismatch")

	_, err = reshape(tensor{Shape: []int{2, 1, 1}, Data: []float32{1, 2}})
	assert.Error(t, err, "batch > 1")

	_, err = reshape(tensor{Shape: []int{4}, Data: []float32{1, 2, 3, 4}})
	assert.Error(t, err, "rank 1")

	l, err := reshape(tensor{Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, l[1])
}
