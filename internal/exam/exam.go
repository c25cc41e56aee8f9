package exam

// Material is one piece of uploaded study material, already read into
// memory. The handler owns the on-disk artifact lifecycle.
type Material struct {
	Data      []byte
	MediaType string
}

// Request describes one exam-generation request.
type Request struct {
	// ExamType is a free-form instruction describing the desired question
	// count and style. Empty means DefaultExamType.
	ExamType  string
	Materials []Material
}

// Question is a single multiple-choice question as produced by the
// generation provider.
type Question struct {
	ID            int               `json:"id"`
	Text          string            `json:"text"`
	Options       map[string]string `json:"options"`
	CorrectOption string            `json:"correctOption"`
}

// Exam is the parsed and validated provider output.
type Exam struct {
	Questions []Question `json:"questions"`
}

// optionKeys are the option keys every question must carry.
var optionKeys = []string{"a", "b", "c", "d"}
