package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pablosanz/examgen/internal/exam"
	"github.com/pablosanz/examgen/internal/i18n"
	"github.com/pablosanz/examgen/internal/model"
	"github.com/pablosanz/examgen/internal/store"
	"github.com/pablosanz/examgen/internal/tempfile"
)

// fileField is the multipart field name study-material files arrive under.
const fileField = "files"

// ExamGenerator runs the exam-generation pipeline.
type ExamGenerator interface {
	Generate(ctx context.Context, req exam.Request) (*exam.Exam, error)
}

// ResultStore persists and retrieves shared exam results.
type ResultStore interface {
	Create(ctx context.Context, payload model.ResultPayload) (string, error)
	FindByID(ctx context.Context, id string) (*model.ExamResult, error)
}

// Config holds runtime handler parameters set via CLI flags.
type Config struct {
	// MaxUploadBytes caps a single uploaded file.
	MaxUploadBytes int64
	// MaxRequestBytes caps the whole multipart request body. It must
	// leave room for several files plus multipart framing overhead.
	MaxRequestBytes int64
	ProviderTimeout time.Duration
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    ResultStore
	pipeline ExamGenerator
	files    *tempfile.Manager
	config   Config
}

// New creates a new Handler.
func New(s ResultStore, p ExamGenerator, files *tempfile.Manager, cfg Config) *Handler {
	return &Handler{store: s, pipeline: p, files: files, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/results", h.handleSaveResult)
		r.Get("/results", h.handleGetResult)
		r.Post("/exams/generate", h.handleGenerateExam)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	var payload model.ResultPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "error.invalid_json", "")
		return
	}

	shareID, err := h.store.Create(r.Context(), payload)
	var missing *store.MissingFieldError
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: i18n.Td(r.Context(), "error.missing_field", map[string]any{"Field": missing.Field}),
		})
		return
	case err != nil:
		slog.Error("save result", "error", err)
		writeError(w, r, http.StatusInternalServerError, "error.store", "")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"shareId": shareID,
	})
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	shareID := r.URL.Query().Get("shareId")
	if shareID == "" {
		writeError(w, r, http.StatusBadRequest, "error.missing_share_id", "")
		return
	}

	res, err := h.store.FindByID(r.Context(), shareID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "error.not_found", "")
		return
	case err != nil:
		slog.Error("get result", "share_id", shareID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "error.internal", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"resultado": res,
	})
}

func (h *Handler) handleGenerateExam(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "error.no_material", "")
		return
	}

	var artifacts []*tempfile.Artifact
	defer func() {
		for _, a := range artifacts {
			a.Release()
		}
	}()

	examType := ""
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isRequestTooLarge(err) {
				writeError(w, r, http.StatusBadRequest, "error.file_too_large", "")
				return
			}
			writeError(w, r, http.StatusBadRequest, "error.no_material", "")
			return
		}

		switch part.FormName() {
		case "exam_type":
			val, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "error.no_material", "")
				return
			}
			examType = strings.TrimSpace(string(val))
		case fileField:
			mediaType := part.Header.Get("Content-Type")
			if mediaType == "" {
				mediaType = "application/octet-stream"
			}
			art, err := h.files.Store(part, mediaType)
			if err != nil {
				if errors.Is(err, tempfile.ErrTooLarge) || isRequestTooLarge(err) {
					writeError(w, r, http.StatusBadRequest, "error.file_too_large", "")
					return
				}
				slog.Error("store upload", "error", err)
				writeError(w, r, http.StatusInternalServerError, "error.internal", "")
				return
			}
			artifacts = append(artifacts, art)
		}
		_ = part.Close()
	}

	if len(artifacts) == 0 {
		writeError(w, r, http.StatusBadRequest, "error.no_material", "")
		return
	}

	materials := make([]exam.Material, 0, len(artifacts))
	for _, a := range artifacts {
		data, err := a.ReadAll()
		if err != nil {
			slog.Error("read artifact", "error", err)
			writeError(w, r, http.StatusInternalServerError, "error.internal", "")
			return
		}
		materials = append(materials, exam.Material{Data: data, MediaType: a.MediaType})
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.ProviderTimeout)
	defer cancel()

	generated, err := h.pipeline.Generate(ctx, exam.Request{
		ExamType:  examType,
		Materials: materials,
	})
	if err != nil {
		h.writeGenerateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": i18n.T(r.Context(), "message.exam_generated"),
		"examen":  generated,
	})
}

// isRequestTooLarge reports whether err came from the whole-request body
// cap set by http.MaxBytesReader. That is a client-size condition, not an
// internal fault.
func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// writeGenerateError maps pipeline failures to the uniform response
// contract. Upstream detail is logged fully server-side; clients only see
// a generic message plus sanitized detail.
func (h *Handler) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var provider *exam.ProviderError
	var format *exam.FormatError
	switch {
	case errors.Is(err, exam.ErrNoMaterial):
		writeError(w, r, http.StatusBadRequest, "error.no_material", "")
	case errors.Is(err, exam.ErrInsufficientText):
		slog.Warn("insufficient OCR text", "error", err)
		writeError(w, r, http.StatusInternalServerError, "error.insufficient_text", err.Error())
	case errors.As(err, &provider):
		slog.Error("provider call failed", "op", provider.Op, "error", provider.Err)
		writeError(w, r, http.StatusInternalServerError, "error.provider", provider.Op)
	case errors.As(err, &format):
		slog.Error("provider output rejected", "error", format.Err, "raw", format.Raw)
		writeError(w, r, http.StatusInternalServerError, "error.provider_format", "")
	default:
		slog.Error("generate exam", "error", err)
		writeError(w, r, http.StatusInternalServerError, "error.internal", "")
	}
}
