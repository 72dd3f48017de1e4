package models

import "time"

type Outcome string

const (
	OutcomeAnswered           Outcome = "answered"
	OutcomeEmptyKnowledgeBase Outcome = "empty_knowledge_base"
	OutcomeNotFound           Outcome = "not_found"
	OutcomeFailed             Outcome = "failed"
)

// QueryLogRecord is appended once per Ask call and never modified.
type QueryLogRecord struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Sources    []string  `json:"sources"`
	Confidence float64   `json:"confidence"`
	Outcome    Outcome   `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

type FrequencyCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Analytics struct {
	TotalQueries  int              `json:"total_queries"`
	AvgConfidence float64          `json:"avg_confidence"`
	TopQuestions  []FrequencyCount `json:"top_questions"`
	TopSources    []FrequencyCount `json:"top_sources"`
}

type Answer struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

type SearchHit struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

type Email struct {
	Email      string   `json:"email"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}
