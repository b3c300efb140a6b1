// Package postgres is the concrete persistence.Gateway backed by
// gorm + Postgres, with a Redis read-through layer for the FAQ
// semantic cache. Table/model conventions (uint64 ids minted in
// BeforeCreate, <-:create id columns, idempotent upserts) are
// grounded on the teacher's internal_callcontext.CallContext model.
package postgres

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsultationSession mirrors a Room's persisted lifecycle.
type ConsultationSession struct {
	ID               string     `gorm:"column:id;type:varchar(36);primaryKey;<-:create"`
	RoomName         string     `gorm:"column:room_name;type:varchar(200);not null;index"`
	CustomerRef      string     `gorm:"column:customer_ref;type:varchar(64);not null;default:'';index"`
	CreatedDate      time.Time  `gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
	EndedAt          *time.Time `gorm:"column:ended_at;type:timestamp"`
	DurationSeconds  int64      `gorm:"column:duration_seconds;type:bigint;not null;default:0"`
	FinalSummary     string     `gorm:"column:final_summary;type:text;not null;default:''"`
	ConsultationType string     `gorm:"column:consultation_type;type:varchar(50);not null;default:''"`
}

func (ConsultationSession) TableName() string { return "consultation_sessions" }

func (s *ConsultationSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedDate.IsZero() {
		s.CreatedDate = time.Now()
	}
	return nil
}

// ConsultationTranscript mirrors one TranscriptTurn. Idempotent key:
// (session_id, turn_index).
type ConsultationTranscript struct {
	ID          uint64    `gorm:"column:id;type:bigint;primaryKey;<-:create"`
	SessionID   string    `gorm:"column:session_id;type:varchar(36);not null;uniqueIndex:idx_session_turn"`
	TurnIndex   int       `gorm:"column:turn_index;not null;uniqueIndex:idx_session_turn"`
	SpeakerType string    `gorm:"column:speaker_type;type:varchar(20);not null"`
	SpeakerName string    `gorm:"column:speaker_name;type:varchar(200);not null;default:''"`
	Text        string    `gorm:"column:text;type:text;not null"`
	TimestampMs int64     `gorm:"column:timestamp_ms;not null"`
	Confidence  float64   `gorm:"column:confidence;not null;default:0"`
	IsFinal     bool      `gorm:"column:is_final;not null;default:true"`
	Source      string    `gorm:"column:source;type:varchar(50);not null;default:''"`
	CreatedDate time.Time `gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
}

func (ConsultationTranscript) TableName() string { return "consultation_transcripts" }

func (t *ConsultationTranscript) BeforeCreate(tx *gorm.DB) error {
	if t.ID == 0 {
		t.ID = nextID()
	}
	if t.CreatedDate.IsZero() {
		t.CreatedDate = time.Now()
	}
	return nil
}

// ConsultationAgentResult mirrors one AnalysisResult. Idempotent key:
// (session_id, turn_id, result_type).
type ConsultationAgentResult struct {
	ID               uint64    `gorm:"column:id;type:bigint;primaryKey;<-:create"`
	SessionID        string    `gorm:"column:session_id;type:varchar(36);not null;uniqueIndex:idx_session_turn_type"`
	TurnID           string    `gorm:"column:turn_id;type:varchar(40);not null;uniqueIndex:idx_session_turn_type"`
	ResultType       string    `gorm:"column:result_type;type:varchar(40);not null;uniqueIndex:idx_session_turn_type"`
	ResultData       []byte    `gorm:"column:result_data;type:jsonb;not null"`
	ProcessingTimeMs int64     `gorm:"column:processing_time_ms;not null;default:0"`
	ModelVersion     string    `gorm:"column:model_version;type:varchar(100);not null;default:''"`
	CreatedDate      time.Time `gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
}

func (ConsultationAgentResult) TableName() string { return "consultation_agent_results" }

func (r *ConsultationAgentResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == 0 {
		r.ID = nextID()
	}
	if r.CreatedDate.IsZero() {
		r.CreatedDate = time.Now()
	}
	return nil
}

// ConsultationFAQCache is the durable fallback tier of the FAQ
// semantic cache (Redis holds the hot tier — see gateway.go).
type ConsultationFAQCache struct {
	ID             uint64    `gorm:"column:id;type:bigint;primaryKey;<-:create"`
	Query          string    `gorm:"column:query;type:text;not null"`
	QueryEmbedding []byte    `gorm:"column:query_embedding;type:bytea;not null"`
	ResultPayload  []byte    `gorm:"column:result_payload;type:jsonb;not null"`
	HitCount       int       `gorm:"column:hit_count;not null;default:0"`
	CreatedDate    time.Time `gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
}

func (ConsultationFAQCache) TableName() string { return "consultation_faq_cache" }

func (c *ConsultationFAQCache) BeforeCreate(tx *gorm.DB) error {
	if c.ID == 0 {
		c.ID = nextID()
	}
	if c.CreatedDate.IsZero() {
		c.CreatedDate = time.Now()
	}
	return nil
}

// AllModels lists every model for AutoMigrate callers (migrations
// themselves remain an external collaborator per spec.md §1).
func AllModels() []interface{} {
	return []interface{}{
		&ConsultationSession{},
		&ConsultationTranscript{},
		&ConsultationAgentResult{},
		&ConsultationFAQCache{},
	}
}
