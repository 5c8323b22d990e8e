package models

import (
	"encoding/json"
	"time"
)

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
}

// Provenance locates a retrieved passage in its source document.
type Provenance struct {
	DocumentID string    `json:"documentId,omitempty"`
	FileName   string    `json:"fileName,omitempty"`
	ChunkRef   string    `json:"chunkRef,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// RetrievedCandidate is one search hit before filtering. Score is in [0,1].
type RetrievedCandidate struct {
	SourceID   string
	Text       string
	Score      float64
	Provenance Provenance
}

// CompressedChunk is a candidate after boilerplate removal and truncation.
// Index is the 1-based retrieval rank.
type CompressedChunk struct {
	Index      int
	SourceID   string
	Score      float64
	Text       string
	Provenance Provenance
}

type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "high"
	BandMedium ConfidenceBand = "medium"
	BandLow    ConfidenceBand = "low"
)

type ConfidenceBreakdown struct {
	ModelConfidence float64 `json:"modelConfidence"`
	Retrieval       float64 `json:"retrieval"`
	Evidence        float64 `json:"evidence"`
	Found           float64 `json:"found"`
	AnswerQuality   float64 `json:"answerQuality"`
	Composite       float64 `json:"composite"`
}

type Evidence struct {
	ID          string `json:"id"`
	DocumentID  string `json:"documentId,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	ChunkRef    string `json:"chunkRef,omitempty"`
	TextContent string `json:"textContent"`
}

type Answer struct {
	ID                  string              `json:"id"`
	ProjectID           string              `json:"projectId"`
	QuestionID          string              `json:"questionId"`
	Question            string              `json:"question"`
	Text                string              `json:"text"`
	Confidence          float64             `json:"confidence"`
	ConfidenceBreakdown ConfidenceBreakdown `json:"confidenceBreakdown"`
	ConfidenceBand      ConfidenceBand      `json:"confidenceBand"`
	Sources             []Evidence          `json:"sources"`
	FromLibrary         bool                `json:"fromLibrary"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// LibraryItem is a pre-approved question/answer pair.
type LibraryItem struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"orgId"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Tags       []string  `json:"tags,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
	UsageCount int       `json:"usageCount"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`
}

type SectionName string

const (
	SectionSummary         SectionName = "summary"
	SectionDeadlines       SectionName = "deadlines"
	SectionRequirements    SectionName = "requirements"
	SectionContacts        SectionName = "contacts"
	SectionRisks           SectionName = "risks"
	SectionPastPerformance SectionName = "past-performance"
	SectionScoring         SectionName = "scoring"
)

// AllSections lists brief sections in display order.
var AllSections = []SectionName{
	SectionSummary,
	SectionDeadlines,
	SectionRequirements,
	SectionContacts,
	SectionRisks,
	SectionPastPerformance,
	SectionScoring,
}

func (s SectionName) Valid() bool {
	for _, known := range AllSections {
		if s == known {
			return true
		}
	}
	return false
}

type SectionStatus string

const (
	StatusIdle       SectionStatus = "IDLE"
	StatusInProgress SectionStatus = "IN_PROGRESS"
	StatusComplete   SectionStatus = "COMPLETE"
	StatusFailed     SectionStatus = "FAILED"
)

type BriefSection struct {
	Status    SectionStatus   `json:"status"`
	InputHash string          `json:"inputHash,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *string         `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Decision string

const (
	DecisionGo            Decision = "GO"
	DecisionConditionalGo Decision = "CONDITIONAL_GO"
	DecisionNoGo          Decision = "NO_GO"
)

type Brief struct {
	ID                 string                       `json:"id"`
	ProjectID          string                       `json:"projectId"`
	OrgID              string                       `json:"orgId"`
	OpportunityID      string                       `json:"opportunityId"`
	SourceDocumentKeys []string                     `json:"sourceDocumentKeys"`
	Sections           map[SectionName]BriefSection `json:"sections"`
	CompositeScore     *float64                     `json:"compositeScore,omitempty"`
	Decision           *Decision                    `json:"decision,omitempty"`
	Confidence         *float64                     `json:"confidence,omitempty"`
	Status             SectionStatus                `json:"status,omitempty"`
	CreatedAt          time.Time                    `json:"createdAt"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
}
