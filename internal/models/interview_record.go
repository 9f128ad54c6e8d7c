package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// InterviewRecord is the archived outcome of one completed recording cycle.
type InterviewRecord struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InterviewID string `gorm:"column:interview_id;type:uuid;index" json:"interview_id"`
	OwnerID     string `gorm:"column:owner_id;type:text;index" json:"owner_id"`
	Cycle       int64  `gorm:"column:cycle;type:bigint" json:"cycle"`

	Mode             string `gorm:"column:mode;type:text" json:"mode"`
	ScreeningSection string `gorm:"column:screening_section;type:text" json:"screening_section"`

	Transcript   string         `gorm:"column:transcript;type:text" json:"transcript"`
	QAPairs      datatypes.JSON `gorm:"column:qa_pairs;type:jsonb" json:"qa_pairs"`
	Suggestions  pq.StringArray `gorm:"column:suggestions;type:text[]" json:"suggestions"`
	DocumentText string         `gorm:"column:document_text;type:text" json:"document_text"`

	StartedAt time.Time `gorm:"column:started_at;type:timestamptz" json:"started_at"`
	EndedAt   time.Time `gorm:"column:ended_at;type:timestamptz;index" json:"ended_at"`
}

func (InterviewRecord) TableName() string { return "interview_records" }
