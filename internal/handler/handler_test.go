package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pablosanz/examgen/internal/exam"
	"github.com/pablosanz/examgen/internal/i18n"
	"github.com/pablosanz/examgen/internal/model"
	"github.com/pablosanz/examgen/internal/store"
	"github.com/pablosanz/examgen/internal/tempfile"
)

var shareIDPattern = regexp.MustCompile(`^R_[A-Z0-9]{6}$`)

func TestMain(m *testing.M) {
	if err := i18n.Init("es"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// memStore is an in-memory ResultStore with the same validation contract
// as the real store.
type memStore struct {
	results   map[string]*model.ExamResult
	createErr error
	findErr   error
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]*model.ExamResult)}
}

func (m *memStore) Create(_ context.Context, p model.ResultPayload) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	switch {
	case p.Score == nil:
		return "", &store.MissingFieldError{Field: "score"}
	case p.Answers == nil:
		return "", &store.MissingFieldError{Field: "answers"}
	case p.TotalQuestions == nil:
		return "", &store.MissingFieldError{Field: "totalQuestions"}
	case p.Exam == nil:
		return "", &store.MissingFieldError{Field: "exam"}
	}
	m.nextID++
	id := fmt.Sprintf("R_%06X", m.nextID)
	m.results[id] = &model.ExamResult{
		UniqueID:       id,
		CreatedAt:      time.Now().UTC(),
		Score:          *p.Score,
		Answers:        p.Answers,
		TotalQuestions: *p.TotalQuestions,
		Exam:           p.Exam,
	}
	return id, nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*model.ExamResult, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	res, ok := m.results[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return res, nil
}

type fakePipeline struct {
	exam  *exam.Exam
	err   error
	calls int
	got   exam.Request
}

func (f *fakePipeline) Generate(_ context.Context, req exam.Request) (*exam.Exam, error) {
	f.calls++
	f.got = req
	return f.exam, f.err
}

func validExam() *exam.Exam {
	return &exam.Exam{Questions: []exam.Question{
		{
			ID:            1,
			Text:          "Q1",
			Options:       map[string]string{"a": "A", "b": "B", "c": "C", "d": "D"},
			CorrectOption: "a",
		},
	}}
}

func newTestRouter(t *testing.T, s ResultStore, p ExamGenerator) (chi.Router, string) {
	t.Helper()
	dir := t.TempDir()
	files, err := tempfile.NewManager(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h := New(s, p, files, Config{
		MaxUploadBytes:  1 << 20,
		MaxRequestBytes: 4 << 20,
		ProviderTimeout: 5 * time.Second,
	})
	r := chi.NewRouter()
	h.Routes(r)
	return r, dir
}

func doJSON(t *testing.T, r chi.Router, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestSaveAndGetResult(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{exam: validExam()})

	body := `{"score": 8, "answers": {"q1": "a"}, "totalQuestions": 10, "exam": [{"id": 1, "text": "Q1"}]}`
	rec, resp := doJSON(t, r, http.MethodPost, "/api/results", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Error("expected success true")
	}
	shareID, _ := resp["shareId"].(string)
	if !shareIDPattern.MatchString(shareID) {
		t.Fatalf("shareId %q does not match %s", shareID, shareIDPattern)
	}

	rec, resp = doJSON(t, r, http.MethodGet, "/api/results?shareId="+shareID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resultado, ok := resp["resultado"].(map[string]any)
	if !ok {
		t.Fatalf("expected resultado object, got %v", resp["resultado"])
	}
	if resultado["puntuacion"] != 8.0 {
		t.Errorf("expected puntuacion 8, got %v", resultado["puntuacion"])
	}
	if resultado["totalPreguntas"] != 10.0 {
		t.Errorf("expected totalPreguntas 10, got %v", resultado["totalPreguntas"])
	}
	if resultado["uniqueId"] != shareID {
		t.Errorf("expected uniqueId %q, got %v", shareID, resultado["uniqueId"])
	}
}

func TestSaveResultMissingField(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{})

	body := `{"score": 8, "answers": {"q1": "a"}, "exam": []}`
	rec, resp := doJSON(t, r, http.MethodPost, "/api/results", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	errMsg, _ := resp["error"].(string)
	if errMsg == "" {
		t.Error("expected a non-empty error message")
	}
	if !strings.Contains(errMsg, "totalQuestions") {
		t.Errorf("error should name the missing field, got %q", errMsg)
	}
}

func TestSaveResultInvalidJSON(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{})

	rec, resp := doJSON(t, r, http.MethodPost, "/api/results", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestSaveResultStoreFailure(t *testing.T) {
	s := newMemStore()
	s.createErr = fmt.Errorf("database unavailable")
	r, _ := newTestRouter(t, s, &fakePipeline{})

	body := `{"score": 1, "answers": {}, "totalQuestions": 1, "exam": []}`
	rec, _ := doJSON(t, r, http.MethodPost, "/api/results", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestGetResultMissingParam(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{})

	rec, resp := doJSON(t, r, http.MethodGet, "/api/results", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestGetResultNotFound(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{})

	rec, _ := doJSON(t, r, http.MethodGet, "/api/results?shareId=R_ZZZZZZ", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// multipartBody builds a multipart request body with the given files and
// optional exam_type field.
func multipartBody(t *testing.T, examType string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if examType != "" {
		if err := w.WriteField("exam_type", examType); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for name, content := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, name))
		hdr.Set("Content-Type", "image/png")
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func doMultipart(t *testing.T, r chi.Router, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/exams/generate", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestGenerateExam(t *testing.T) {
	p := &fakePipeline{exam: validExam()}
	r, dir := newTestRouter(t, newMemStore(), p)

	body, ct := multipartBody(t, "20 preguntas", map[string]string{
		"page1.png": "first page bytes",
		"page2.png": "second page bytes",
	})
	rec, resp := doMultipart(t, r, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	examen, ok := resp["examen"].(map[string]any)
	if !ok {
		t.Fatalf("expected examen object, got %v", resp["examen"])
	}
	questions, _ := examen["questions"].([]any)
	if len(questions) != 1 {
		t.Errorf("expected 1 question, got %d", len(questions))
	}
	if resp["message"] == "" {
		t.Error("expected a message")
	}

	if p.got.ExamType != "20 preguntas" {
		t.Errorf("expected exam_type forwarded, got %q", p.got.ExamType)
	}
	if len(p.got.Materials) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(p.got.Materials))
	}
	if p.got.Materials[0].MediaType != "image/png" {
		t.Errorf("expected media type image/png, got %q", p.got.Materials[0].MediaType)
	}

	// All artifacts must be released once the handler returns.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp dir to be empty after request, found %d files", len(entries))
	}
}

func TestGenerateExamNoFile(t *testing.T) {
	p := &fakePipeline{exam: validExam()}
	r, _ := newTestRouter(t, newMemStore(), p)

	t.Run("not multipart", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodPost, "/api/exams/generate", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("multipart without files", func(t *testing.T) {
		body, ct := multipartBody(t, "algo", nil)
		rec, _ := doMultipart(t, r, body, ct)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	if p.calls != 0 {
		t.Errorf("pipeline should never be called without files, got %d calls", p.calls)
	}
}

func TestGenerateExamPipelineFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"no material", exam.ErrNoMaterial, http.StatusBadRequest},
		{"insufficient text", fmt.Errorf("%w: got 12 characters", exam.ErrInsufficientText), http.StatusInternalServerError},
		{"provider call", &exam.ProviderError{Op: "generate", Err: fmt.Errorf("timeout")}, http.StatusInternalServerError},
		{"provider format", &exam.FormatError{Raw: "not json", Err: fmt.Errorf("parse")}, http.StatusInternalServerError},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dir := newTestRouter(t, newMemStore(), &fakePipeline{err: tt.err})

			body, ct := multipartBody(t, "", map[string]string{"notes.png": "bytes"})
			rec, resp := doMultipart(t, r, body, ct)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if resp["error"] == "" {
				t.Error("expected an error message")
			}
			if format, ok := tt.err.(*exam.FormatError); ok {
				if strings.Contains(rec.Body.String(), format.Raw) {
					t.Error("raw provider output must not reach the client")
				}
			}

			// Artifacts are released on failure paths too.
			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			if len(entries) != 0 {
				t.Errorf("expected temp dir to be empty after failure, found %d files", len(entries))
			}
		})
	}
}

func TestGenerateExamFileTooLarge(t *testing.T) {
	files, err := tempfile.NewManager(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h := New(newMemStore(), &fakePipeline{exam: validExam()}, files, Config{
		MaxUploadBytes:  8,
		MaxRequestBytes: 1 << 20,
		ProviderTimeout: time.Second,
	})
	r := chi.NewRouter()
	h.Routes(r)

	body, ct := multipartBody(t, "", map[string]string{"big.png": "way more than eight bytes"})
	rec, _ := doMultipart(t, r, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerateExamManyFilesUnderPerFileCap(t *testing.T) {
	// Several files each under the per-file cap must be accepted: the
	// whole-request cap is independent of the per-file limit.
	perFile := int64(10 << 10)
	files, err := tempfile.NewManager(t.TempDir(), perFile)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	p := &fakePipeline{exam: validExam()}
	h := New(newMemStore(), p, files, Config{
		MaxUploadBytes:  perFile,
		MaxRequestBytes: 1 << 20,
		ProviderTimeout: time.Second,
	})
	r := chi.NewRouter()
	h.Routes(r)

	page := strings.Repeat("p", 6<<10) // 6 KiB, under the 10 KiB per-file cap
	body, ct := multipartBody(t, "", map[string]string{
		"page1.png": page,
		"page2.png": page,
	})
	rec, _ := doMultipart(t, r, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(p.got.Materials) != 2 {
		t.Errorf("expected 2 materials, got %d", len(p.got.Materials))
	}
}

func TestGenerateExamRequestBodyTooLarge(t *testing.T) {
	files, err := tempfile.NewManager(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h := New(newMemStore(), &fakePipeline{exam: validExam()}, files, Config{
		MaxUploadBytes:  1 << 20,
		MaxRequestBytes: 256,
		ProviderTimeout: time.Second,
	})
	r := chi.NewRouter()
	h.Routes(r)

	body, ct := multipartBody(t, "", map[string]string{"notes.png": strings.Repeat("n", 1<<10)})
	rec, resp := doMultipart(t, r, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized request body, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["error"] == "" || resp["error"] == nil {
		t.Error("expected an error message")
	}
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, newMemStore(), &fakePipeline{})

	rec, resp := doJSON(t, r, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %v", resp["status"])
	}
}
