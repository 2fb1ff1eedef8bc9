package models

import (
	"time"

	"gorm.io/datatypes"
)

// InterviewSession is the persisted state of one adaptive symptom interview.
// The ID is issued by the reasoning service, or generated locally when the
// service was unreachable at start.
type InterviewSession struct {
	ID                  string         `gorm:"primaryKey;size:64"`
	RequesterID         string         `gorm:"size:64;not null;index"`
	Phase               string         `gorm:"size:24;not null;index"` // initializing, interviewing, awaiting-analysis, completed, escalating, errored
	PriorPhase          string         `gorm:"size:24"`                // phase to recover to from errored
	BodyArea            string         `gorm:"size:64"`
	Category            string         `gorm:"size:64"`
	Symptoms            string         `gorm:"type:text"`
	FormAnswers         datatypes.JSON `gorm:"type:json"`
	TurnNumber          int            `gorm:"default:0"`
	Confidence          *int
	TargetConfidence    int    `gorm:"default:90"`
	RetryCount          int    `gorm:"default:0"`
	Tier                string `gorm:"size:16"` // basic, enhanced, ultra
	Escalation          string `gorm:"size:16"` // "", ask_more, think_harder
	EscalationQuestions int    `gorm:"default:0"`
	LocalOnly           bool   `gorm:"default:false"`
	Archived            bool   `gorm:"default:false;index"`
	ResultID            string `gorm:"size:64"`
	LastErrorKind       string `gorm:"size:32"`
	LastErrorMessage    string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time `gorm:"index"`
	CompletedAt         *time.Time

	Turns    []InterviewTurn  `gorm:"foreignKey:SessionID"`
	Analyses []TierAnalysis   `gorm:"foreignKey:SessionID"`
	Trail    []ConfidenceStep `gorm:"foreignKey:SessionID"`
}

// InterviewTurn is one append-only transcript entry. Ordinal preserves
// insertion order within a session.
type InterviewTurn struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:64;not null;uniqueIndex:idx_session_ordinal"`
	Ordinal   int    `gorm:"not null;uniqueIndex:idx_session_ordinal"`
	Role      string `gorm:"size:16;not null"` // question, answer, notice
	Content   string `gorm:"type:mediumtext;not null"`
	CreatedAt time.Time
}

// TierAnalysis stores the analysis produced for one tier. A higher tier adds
// a row; earlier tiers are never deleted.
type TierAnalysis struct {
	ID               uint           `gorm:"primaryKey;autoIncrement"`
	SessionID        string         `gorm:"size:64;not null;uniqueIndex:idx_session_tier"`
	Tier             string         `gorm:"size:16;not null;uniqueIndex:idx_session_tier"`
	Analysis         datatypes.JSON `gorm:"type:json"`
	Confidence       *int
	CriticalInsights datatypes.JSON `gorm:"type:json"`
	CreatedAt        time.Time
}

// ConfidenceStep records one point of the basic -> enhanced -> ultra
// confidence progression.
type ConfidenceStep struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"size:64;not null;index"`
	Sequence   int    `gorm:"not null"`
	Tier       string `gorm:"size:16;not null"`
	Confidence int
	CreatedAt  time.Time
}
