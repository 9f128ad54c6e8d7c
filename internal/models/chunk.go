package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ChunkPending    = "pending"
	ChunkProcessing = "processing"
	ChunkDone       = "done"
	ChunkFailed     = "failed"
	ChunkDiscarded  = "discarded"
)

// ChunkRecord is the diagnostic ledger entry for one captured audio chunk.
type ChunkRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	InterviewID string             `bson:"interview_id" json:"interview_id"`
	Cycle       int64              `bson:"cycle" json:"cycle"`
	ChunkIndex  int64              `bson:"chunk_index" json:"chunk_index"`

	MIMEType   string `bson:"mime_type" json:"mime_type"`
	SizeBytes  int    `bson:"size_bytes" json:"size_bytes"`
	DurationMS int64  `bson:"duration_ms" json:"duration_ms"`

	Text      string `bson:"text,omitempty" json:"text,omitempty"`
	STTStatus string `bson:"stt_status" json:"stt_status"` // pending|processing|done|failed|discarded
	Error     string `bson:"error,omitempty" json:"error,omitempty"`

	ProcessingTimeMS int64     `bson:"processing_time_ms,omitempty" json:"processing_time_ms,omitempty"`
	CapturedAt       time.Time `bson:"captured_at" json:"captured_at"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
