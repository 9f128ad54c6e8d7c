package models

import "time"

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// AnalysisMode decides when question/answer extraction and suggestions run.
type AnalysisMode string

const (
	// ModeBatch analyzes once, over the full transcript, when recording stops.
	ModeBatch AnalysisMode = "batch"
	// ModeLive analyzes after every transcript update.
	ModeLive AnalysisMode = "live"
)

func (m AnalysisMode) Valid() bool { return m == ModeBatch || m == ModeLive }

type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

type QAGroup struct {
	Category string   `json:"category"`
	Pairs    []QAPair `json:"pairs"`
}

type LoadingFlags struct {
	Transcribe bool `json:"transcribe"`
	QA         bool `json:"qa"`
	Suggest    bool `json:"suggest"`
	Document   bool `json:"document"`
}

func (f LoadingFlags) Any() bool { return f.Transcribe || f.QA || f.Suggest || f.Document }

// Snapshot is the read-only view of one interview handed to clients.
type Snapshot struct {
	InterviewID string `json:"interview_id"`
	OwnerID     string `json:"owner_id"`

	State            State        `json:"state"`
	Cycle            int64        `json:"cycle"`
	Mode             AnalysisMode `json:"mode"`
	ScreeningSection string       `json:"screening_section"`

	Transcript       string   `json:"transcript"`
	TranscriptChunks []string `json:"transcript_chunks"`

	QAPairs      []QAPair  `json:"qa_pairs"`
	QAGroups     []QAGroup `json:"qa_groups"`
	Suggestions  []string  `json:"suggestions"`
	DocumentText string    `json:"document_text"`

	Loading    LoadingFlags `json:"loading"`
	AudioLevel float64      `json:"audio_level"`

	// AnalysisVersion is the version of the analysis result currently shown.
	AnalysisVersion int64 `json:"analysis_version"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
