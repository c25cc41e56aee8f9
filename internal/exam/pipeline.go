package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// DefaultExamType is used when a request does not specify instructions.
const DefaultExamType = "Genera un examen tipo test de 10 preguntas basado en el material de estudio."

// MinExtractedText is the minimum number of characters the OCR step must
// produce before a generation call is attempted.
const MinExtractedText = 50

// Mode selects how study material reaches the generation provider. It is a
// deployment-level setting, never chosen per request.
type Mode string

const (
	// ModeImage passes material images directly to a multimodal provider.
	ModeImage Mode = "image"
	// ModeOCR extracts text from each image first and sends only text.
	ModeOCR Mode = "ocr"
)

// ValidMode reports whether m is a supported generation mode.
func ValidMode(m Mode) bool {
	return m == ModeImage || m == ModeOCR
}

// Generator produces raw exam JSON from an instruction plus either inline
// images or previously extracted text.
type Generator interface {
	GenerateExam(ctx context.Context, instruction string, images []Material, text string) (string, error)
}

// TextExtractor runs document text detection on a single image.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Pipeline turns an exam request into a validated Exam.
type Pipeline struct {
	gen       Generator
	extractor TextExtractor
	mode      Mode
}

// NewPipeline creates a pipeline. extractor may be nil in image mode.
func NewPipeline(gen Generator, extractor TextExtractor, mode Mode) *Pipeline {
	return &Pipeline{gen: gen, extractor: extractor, mode: mode}
}

// Generate validates the request, feeds the material to the generation
// provider according to the configured mode, and parses the result.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Exam, error) {
	if len(req.Materials) == 0 {
		return nil, ErrNoMaterial
	}

	instruction := strings.TrimSpace(req.ExamType)
	if instruction == "" {
		instruction = DefaultExamType
	}

	var raw string
	var err error
	switch p.mode {
	case ModeOCR:
		text, ocrErr := p.extractAll(ctx, req.Materials)
		if ocrErr != nil {
			return nil, ocrErr
		}
		raw, err = p.gen.GenerateExam(ctx, instruction, nil, text)
	default:
		raw, err = p.gen.GenerateExam(ctx, instruction, req.Materials, "")
	}
	if err != nil {
		return nil, &ProviderError{Op: "generate", Err: err}
	}

	return parseExam(raw)
}

// extractAll runs OCR over every material in input order and concatenates
// the results. Concatenation order is input order, not completion order.
func (p *Pipeline) extractAll(ctx context.Context, materials []Material) (string, error) {
	var sb strings.Builder
	for i, m := range materials {
		text, err := p.extractor.ExtractText(ctx, m.Data)
		if err != nil {
			return "", &ProviderError{Op: "ocr", Err: err}
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(text))
	}
	combined := sb.String()
	// The threshold counts characters, not bytes; OCR text here is mostly
	// Spanish, where accented characters are multi-byte.
	if n := utf8.RuneCountInString(combined); n < MinExtractedText {
		return "", fmt.Errorf("%w: got %d characters, need %d", ErrInsufficientText, n, MinExtractedText)
	}
	return combined, nil
}

// parseExam decodes the provider's raw text output and checks it against
// the expected exam shape. Provider output is never trusted structurally
// beyond this check.
func parseExam(raw string) (*Exam, error) {
	var e Exam
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		slog.Debug("unparseable provider output", "raw", raw)
		return nil, &FormatError{Raw: raw, Err: fmt.Errorf("parse provider output: %w", err)}
	}
	if err := validateExam(&e); err != nil {
		return nil, &FormatError{Raw: raw, Err: err}
	}
	return &e, nil
}

func validateExam(e *Exam) error {
	if len(e.Questions) == 0 {
		return fmt.Errorf("exam has no questions")
	}
	seen := make(map[int]bool, len(e.Questions))
	for i, q := range e.Questions {
		if seen[q.ID] {
			return fmt.Errorf("question %d: duplicate id %d", i, q.ID)
		}
		seen[q.ID] = true
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %d: missing text", i)
		}
		for _, key := range optionKeys {
			if strings.TrimSpace(q.Options[key]) == "" {
				return fmt.Errorf("question %d: missing option %q", i, key)
			}
		}
		if _, ok := q.Options[q.CorrectOption]; !ok {
			return fmt.Errorf("question %d: correctOption %q is not an option key", i, q.CorrectOption)
		}
	}
	return nil
}
