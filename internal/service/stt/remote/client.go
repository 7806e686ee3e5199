// Package remote implements stt.Model against an inference server speaking
// the Open Inference Protocol (KServe v2 REST), e.g. a Triton or KServe
// deployment hosting an MMS checkpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stt-service/internal/service/stt"
)

const (
	inputName  = "input_values"
	outputName = "logits"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	ModelID string
	Timeout time.Duration

	// Vocabularies maps language codes to their CTC token tables, usually
	// from stt.LoadVocabularies.
	Vocabularies map[string]*stt.Vocabulary

	HTTPClient *http.Client
}

// Client implements stt.Model over HTTP.
type Client struct {
	base   string
	model  string
	vocabs map[string]*stt.Vocabulary
	http   *http.Client
}

// New returns a Client. BaseURL and at least one vocabulary are required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("remote model: base URL is required")
	}
	if len(cfg.Vocabularies) == 0 {
		return nil, fmt.Errorf("remote model: no vocabularies configured")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		model:  cfg.ModelID,
		vocabs: cfg.Vocabularies,
		http:   hc,
	}, nil
}

type repositoryRequest struct {
	Parameters map[string]string `json:"parameters"`
}

type tensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float32 `json:"data"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	Inputs  []tensor          `json:"inputs"`
	Outputs []requestedOutput `json:"outputs"`
}

type inferResponse struct {
	ModelName string   `json:"model_name"`
	Outputs   []tensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Load asks the server to place the model on device.
func (c *Client) Load(ctx context.Context, device stt.Device) error {
	req := repositoryRequest{Parameters: map[string]string{"device": string(device)}}
	return c.post(ctx, c.repositoryURL(), req, nil)
}

// LoadAdapter asks the server to switch the model's target language.
func (c *Client) LoadAdapter(ctx context.Context, language string) error {
	if _, ok := c.vocabs[language]; !ok {
		return fmt.Errorf("%w: %s", stt.ErrUnknownLanguage, language)
	}
	req := repositoryRequest{Parameters: map[string]string{"target_lang": language}}
	return c.post(ctx, c.repositoryURL(), req, nil)
}

// Forward runs one inference and reshapes the [1, frames, vocab] output.
func (c *Client) Forward(ctx context.Context, samples []float32, sampleRate int) (stt.Logits, error) {
	req := inferRequest{
		Inputs: []tensor{{
			Name:     inputName,
			Shape:    []int{1, len(samples)},
			Datatype: "FP32",
			Data:     samples,
		}},
		Outputs: []requestedOutput{{Name: outputName}},
	}

	var resp inferResponse
	if err := c.post(ctx, c.base+"/v2/models/"+url.PathEscape(c.model)+"/infer", req, &resp); err != nil {
		return nil, err
	}

	for _, out := range resp.Outputs {
		if out.Name == outputName {
			return reshape(out)
		}
	}
	return nil, fmt.Errorf("inference response has no %q output", outputName)
}

// Vocabulary returns the configured token table for language.
func (c *Client) Vocabulary(language string) (*stt.Vocabulary, error) {
	v, ok := c.vocabs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stt.ErrUnknownLanguage, language)
	}
	return v, nil
}

func (c *Client) repositoryURL() string {
	return c.base + "/v2/repository/models/" + url.PathEscape(c.model) + "/load"
}

func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inference server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	if code == http.StatusInsufficientStorage || strings.Contains(strings.ToLower(msg), "out of memory") {
		return fmt.Errorf("inference server returned %d: %s: %w", code, msg, stt.ErrOutOfMemory)
	}
	return fmt.Errorf("inference server returned %d: %s", code, msg)
}

func reshape(t tensor) (stt.Logits, error) {
	var frames, width int
	switch len(t.Shape) {
	case 3:
		if t.Shape[0] != 1 {
			return nil, fmt.Errorf("unexpected batch size %d", t.Shape[0])
		}
		frames, width = t.Shape[1], t.Shape[2]
	case 2:
		frames, width = t.Shape[0], t.Shape[1]
	default:
		return nil, fmt.Errorf("unexpected logits shape %v", t.Shape)
	}
	if frames*width != len(t.Data) {
		return nil, fmt.Errorf("logits shape %v does not match %d values", t.Shape, len(t.Data))
	}

	out := make(stt.Logits, frames)
	for i := range out {
		out[i] = t.Data[i*width : (i+1)*width]
	}
	return out, nil
}
