package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/intake/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists sessions through GORM. Transcripts and confidence trails are
// append-only: Save never rewrites rows that already exist.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by db. The schema must already be migrated.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("interview: store: db is required")
	}
	return &Store{db: db}, nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Phase       Phase
	RequesterID string
	Limit       int
}

// Summary is the list view of a session.
type Summary struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	Phase       Phase     `json:"phase"`
	BodyArea    string    `json:"body_area,omitempty"`
	TurnNumber  int       `json:"turn_number"`
	Confidence  *int      `json:"confidence,omitempty"`
	Tier        Tier      `json:"tier,omitempty"`
	Archived    bool      `json:"archived"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func summarize(s Session) Summary {
	return Summary{
		ID:          s.ID,
		RequesterID: s.RequesterID,
		Phase:       s.Phase,
		BodyArea:    s.Subject.BodyArea,
		TurnNumber:  s.TurnNumber,
		Confidence:  cloneInt(s.Confidence),
		Tier:        s.Tier,
		Archived:    s.Archived,
		UpdatedAt:   s.UpdatedAt,
	}
}

// Save upserts the session row and appends any transcript turns, tier
// analyses and confidence steps not yet stored.
func (st *Store) Save(ctx context.Context, s Session) error {
	row, err := sessionRow(s)
	if err != nil {
		return fmt.Errorf("interview: store: save %s: %w", s.ID, err)
	}

	err = st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("session: %w", err)
		}

		var maxOrdinal int
		if err := tx.Model(&models.InterviewTurn{}).
			Where("session_id = ?", s.ID).
			Select("COALESCE(MAX(ordinal), 0)").
			Scan(&maxOrdinal).Error; err != nil {
			return fmt.Errorf("turns: %w", err)
		}
		var turns []models.InterviewTurn
		for _, t := range s.Transcript {
			if t.Ordinal <= maxOrdinal {
				continue
			}
			turns = append(turns, models.InterviewTurn{
				SessionID: s.ID,
				Ordinal:   t.Ordinal,
				Role:      string(t.Role),
				Content:   t.Content,
				CreatedAt: t.Timestamp,
			})
		}
		if len(turns) > 0 {
			if err := tx.Create(&turns).Error; err != nil {
				return fmt.Errorf("turns: %w", err)
			}
		}

		for tier, res := range s.Analyses {
			analysis, err := json.Marshal(res.Analysis)
			if err != nil {
				return fmt.Errorf("analysis %s: %w", tier, err)
			}
			insights, err := json.Marshal(res.CriticalInsights)
			if err != nil {
				return fmt.Errorf("insights %s: %w", tier, err)
			}
			ta := models.TierAnalysis{
				SessionID:        s.ID,
				Tier:             string(tier),
				Analysis:         datatypes.JSON(analysis),
				Confidence:       cloneInt(res.Confidence),
				CriticalInsights: datatypes.JSON(insights),
				CreatedAt:        res.CreatedAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}, {Name: "tier"}},
				DoUpdates: clause.AssignmentColumns([]string{"analysis", "confidence", "critical_insights"}),
			}).Create(&ta).Error; err != nil {
				return fmt.Errorf("analysis %s: %w", tier, err)
			}
		}

		var stored int64
		if err := tx.Model(&models.ConfidenceStep{}).Where("session_id = ?", s.ID).Count(&stored).Error; err != nil {
			return fmt.Errorf("trail: %w", err)
		}
		var steps []models.ConfidenceStep
		for i := int(stored); i < len(s.ConfidenceTrail); i++ {
			steps = append(steps, models.ConfidenceStep{
				SessionID:  s.ID,
				Sequence:   i + 1,
				Tier:       string(s.ConfidenceTrail[i].Tier),
				Confidence: s.ConfidenceTrail[i].Confidence,
				CreatedAt:  s.UpdatedAt,
			})
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return fmt.Errorf("trail: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("interview: store: save %s: %w", s.ID, err)
	}
	return nil
}

// Load reads a session with its transcript, analyses and trail.
func (st *Store) Load(ctx context.Context, id string) (Session, error) {
	var row models.InterviewSession
	err := st.db.WithContext(ctx).
		Preload("Turns", func(tx *gorm.DB) *gorm.DB { return tx.Order("ordinal ASC") }).
		Preload("Analyses").
		Preload("Trail", func(tx *gorm.DB) *gorm.DB { return tx.Order("sequence ASC") }).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Session{}, newError(KindSessionNotFound, "load", "session %s", id)
		}
		return Session{}, fmt.Errorf("interview: store: load %s: %w", id, err)
	}
	s, err := fromRow(row)
	if err != nil {
		return Session{}, fmt.Errorf("interview: store: load %s: %w", id, err)
	}
	return s, nil
}

// List returns session summaries matching f, most recently updated first.
func (st *Store) List(ctx context.Context, f ListFilter) ([]Summary, error) {
	q := st.db.WithContext(ctx).Model(&models.InterviewSession{})
	if f.Phase != "" {
		q = q.Where("phase = ?", string(f.Phase))
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	q = q.Order("updated_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []models.InterviewSession
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("interview: store: list: %w", err)
	}
	out := make([]Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, Summary{
			ID:          r.ID,
			RequesterID: r.RequesterID,
			Phase:       Phase(r.Phase),
			BodyArea:    r.BodyArea,
			TurnNumber:  r.TurnNumber,
			Confidence:  r.Confidence,
			Tier:        Tier(r.Tier),
			Archived:    r.Archived,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return out, nil
}

// ArchiveIdle marks completed sessions last updated before cutoff as
// archived, skipping the given ids. It returns the number of rows changed.
func (st *Store) ArchiveIdle(ctx context.Context, cutoff time.Time, skip []string) (int, error) {
	q := st.db.WithContext(ctx).Model(&models.InterviewSession{}).
		Where("phase = ? AND archived = ? AND updated_at < ?", string(PhaseCompleted), false, cutoff)
	if len(skip) > 0 {
		q = q.Where("id NOT IN ?", skip)
	}
	res := q.Update("archived", true)
	if res.Error != nil {
		return 0, fmt.Errorf("interview: store: archive idle: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func sessionRow(s Session) (models.InterviewSession, error) {
	answers, err := json.Marshal(s.Subject.FormAnswers)
	if err != nil {
		return models.InterviewSession{}, fmt.Errorf("form answers: %w", err)
	}
	row := models.InterviewSession{
		ID:                  s.ID,
		RequesterID:         s.RequesterID,
		Phase:               string(s.Phase),
		PriorPhase:          string(s.PriorPhase),
		BodyArea:            s.Subject.BodyArea,
		Category:            s.Subject.Category,
		Symptoms:            s.Subject.Symptoms,
		FormAnswers:         datatypes.JSON(answers),
		TurnNumber:          s.TurnNumber,
		Confidence:          cloneInt(s.Confidence),
		TargetConfidence:    s.TargetConfidence,
		RetryCount:          s.RetryCount,
		Tier:                string(s.Tier),
		Escalation:          string(s.Escalation),
		EscalationQuestions: s.EscalationQuestions,
		LocalOnly:           s.LocalOnly,
		Archived:            s.Archived,
		ResultID:            s.ResultID,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
		CompletedAt:         s.CompletedAt,
	}
	if s.LastError != nil {
		row.LastErrorKind = string(s.LastError.Kind)
		row.LastErrorMessage = s.LastError.Message
	}
	return row, nil
}

func fromRow(row models.InterviewSession) (Session, error) {
	s := Session{
		ID:          row.ID,
		RequesterID: row.RequesterID,
		Phase:       Phase(row.Phase),
		PriorPhase:  Phase(row.PriorPhase),
		Subject: Subject{
			BodyArea: row.BodyArea,
			Category: row.Category,
			Symptoms: row.Symptoms,
		},
		TurnNumber:          row.TurnNumber,
		Confidence:          row.Confidence,
		TargetConfidence:    row.TargetConfidence,
		RetryCount:          row.RetryCount,
		Tier:                Tier(row.Tier),
		Escalation:          Escalation(row.Escalation),
		EscalationQuestions: row.EscalationQuestions,
		LocalOnly:           row.LocalOnly,
		Archived:            row.Archived,
		ResultID:            row.ResultID,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
		CompletedAt:         row.CompletedAt,
	}
	if len(row.FormAnswers) > 0 {
		if err := json.Unmarshal(row.FormAnswers, &s.Subject.FormAnswers); err != nil {
			return Session{}, fmt.Errorf("form answers: %w", err)
		}
	}
	if row.LastErrorKind != "" {
		kind := Kind(row.LastErrorKind)
		s.LastError = &ErrorInfo{Kind: kind, Message: row.LastErrorMessage, Recovery: RecoveryFor(kind)}
	}

	for _, t := range row.Turns {
		s.Transcript = append(s.Transcript, Turn{
			Role:      Role(t.Role),
			Content:   t.Content,
			Ordinal:   t.Ordinal,
			Timestamp: t.CreatedAt,
		})
	}

	if len(row.Analyses) > 0 {
		s.Analyses = make(map[Tier]TierResult, len(row.Analyses))
	}
	for _, a := range row.Analyses {
		res := TierResult{Confidence: a.Confidence, CreatedAt: a.CreatedAt}
		if len(a.Analysis) > 0 {
			if err := json.Unmarshal(a.Analysis, &res.Analysis); err != nil {
				return Session{}, fmt.Errorf("analysis %s: %w", a.Tier, err)
			}
		}
		if len(a.CriticalInsights) > 0 {
			if err := json.Unmarshal(a.CriticalInsights, &res.CriticalInsights); err != nil {
				return Session{}, fmt.Errorf("insights %s: %w", a.Tier, err)
			}
		}
		s.Analyses[Tier(a.Tier)] = res
	}
	if r, ok := s.Analyses[s.Tier]; ok {
		s.Analysis = cloneMap(r.Analysis)
	}

	for _, c := range row.Trail {
		s.ConfidenceTrail = append(s.ConfidenceTrail, ConfidenceStep{Tier: Tier(c.Tier), Confidence: c.Confidence})
	}
	return s, nil
}
