// Package models defines the wire structures for responses and events.
package models

// TranscriptionResult is the response body of a successful transcription.
// Translation is nil when the translation step failed or had nothing to do.
type TranscriptionResult struct {
	Transcription string  `json:"transcription"`
	Language      string  `json:"language"`
	Duration      float64 `json:"duration"`
	Translation   *string `json:"translation"`
}

// TranscriptionCompleted is published after a successful transcription.
type TranscriptionCompleted struct {
	EventType       string  `json:"eventType"`
	RequestID       string  `json:"requestId"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"durationSeconds"`
	Transcription   string  `json:"transcription"`
	Translation     string  `json:"translation,omitempty"`
	Translated      bool    `json:"translated"`
	Timestamp       int64   `json:"timestamp"`
}

// EventTypeTranscriptionCompleted identifies TranscriptionCompleted events.
const EventTypeTranscriptionCompleted = "stt.transcription.completed"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}
