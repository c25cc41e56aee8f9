package model

import "time"

// ExamResult is a saved exam result as persisted in the results collection.
// Field names follow the public API contract, which speaks Spanish.
type ExamResult struct {
	UniqueID       string           `bson:"uniqueId" json:"uniqueId"`
	CreatedAt      time.Time        `bson:"createdAt" json:"createdAt"`
	Score          float64          `bson:"puntuacion" json:"puntuacion"`
	Answers        map[string]any   `bson:"respuestas" json:"respuestas"`
	TotalQuestions int              `bson:"totalPreguntas" json:"totalPreguntas"`
	Exam           []map[string]any `bson:"examen" json:"examen"`
}

// ResultPayload is the inbound save-result request body. Score and
// TotalQuestions are pointers so that a missing field can be told apart
// from a legitimate zero.
type ResultPayload struct {
	Score          *float64         `json:"score"`
	Answers        map[string]any   `json:"answers"`
	TotalQuestions *int             `json:"totalQuestions"`
	Exam           []map[string]any `json:"exam"`
}
