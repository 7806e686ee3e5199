package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stt-service/internal/models"
	"stt-service/internal/observability/logging"
	"stt-service/internal/observability/metrics"
	"stt-service/internal/schema"
	"stt-service/internal/service/audio"
	"stt-service/internal/service/stt"
	"stt-service/internal/service/transcription"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeDecodeFailed    = "decode_failed"
	CodeInferenceFailed = "inference_failed"
	CodeInternal        = "internal_error"
	CodeBadRequest      = "bad_request"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temp files.
const multipartMemory = 8 << 20

// Transcriber runs the transcription pipeline.
type Transcriber interface {
	Validate(filename, language string) error
	Transcribe(ctx context.Context, req transcription.Request) (models.TranscriptionResult, error)
}

// ModelStatus reports whether the recognition model is loaded.
type ModelStatus interface {
	Loaded() bool
}

// Handler serves the public API.
type Handler struct {
	svc            Transcriber
	model          ModelStatus
	maxUploadBytes int64
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

// NewHandler returns a Handler. maxUploadBytes <= 0 disables the limit.
func NewHandler(svc Transcriber, model ModelStatus, maxUploadBytes int64, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		svc:            svc,
		model:          model,
		maxUploadBytes: maxUploadBytes,
		metrics:        m,
		logger:         logging.WithComponent("http"),
	}
}

// Transcribe handles POST /api/stt/transcribe with multipart fields "file"
// and "language".
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.RecordValidationRejected(schema.ReasonTooLarge)
			writeError(w, http.StatusRequestEntityTooLarge, "File too large", schema.ReasonTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Expected a multipart/form-data body", CodeBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	language := ""
	if vals := r.MultipartForm.Value["language"]; len(vals) > 0 {
		language = vals[0]
	}

	filename := ""
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		filename = header.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "Could not read uploaded file", CodeBadRequest)
		return
	}

	if err := h.svc.Validate(filename, language); err != nil {
		h.writeFailure(w, err)
		return
	}

	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	result, err := h.svc.Transcribe(r.Context(), transcription.Request{
		Audio:     file,
		Filename:  filename,
		Language:  language,
		RequestID: requestID,
	})
	if err != nil {
		reqLogger := logging.WithRequest(requestID, language)
		reqLogger.Error().Err(err).Str("filename", filename).Msg("Transcription failed")
		h.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.model.Loaded(),
	})
}

// writeFailure maps pipeline errors to status codes. Internal details stay
// in the logs.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var (
		verr     *schema.ValidationError
		derr     *audio.DecodeError
		ierr     *stt.InferenceError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		h.metrics.RecordValidationRejected(verr.Reason)
		writeError(w, http.StatusBadRequest, verr.Detail, verr.Reason)
	case errors.As(err, &tooLarge):
		h.metrics.RecordValidationRejected(schema.ReasonTooLarge)
		writeError(w, http.StatusRequestEntityTooLarge, "File too large", schema.ReasonTooLarge)
	case errors.As(err, &derr):
		writeError(w, http.StatusInternalServerError, "Could not decode audio file", CodeDecodeFailed)
	case errors.As(err, &ierr):
		writeError(w, http.StatusInternalServerError, "Transcription failed", CodeInferenceFailed)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", CodeInternal)
	}
}

func writeError(w http.ResponseWriter, status int, detail, code string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
