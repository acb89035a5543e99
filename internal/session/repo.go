package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is the durable source of truth for sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, ownerID uint64, sessionID string) (*Session, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]Summary, error)
	// Update overwrites the whole document (last write wins).
	Update(ctx context.Context, s *Session) error
}

// sessionRecord stores one session as a single row; the nested parts are JSON columns.
type sessionRecord struct {
	ID         uint64                            `gorm:"primaryKey;autoIncrement"`
	SessionID  string                            `gorm:"type:varchar(26);uniqueIndex;not null"`
	OwnerID    uint64                            `gorm:"not null;index:idx_ui_sessions_owner_updated,priority:1"`
	Title      string                            `gorm:"type:varchar(255);not null"`
	Transcript datatypes.JSONType[[]ChatMessage] `gorm:"not null"`
	Artifact   datatypes.JSONType[Artifact]      `gorm:"not null"`
	UIState    datatypes.JSONMap
	CreatedAt  time.Time
	UpdatedAt  time.Time                         `gorm:"index:idx_ui_sessions_owner_updated,priority:2"`
}

func (sessionRecord) TableName() string { return "ui_sessions" }

func toRecord(s *Session) *sessionRecord {
	return &sessionRecord{
		SessionID:  s.ID,
		OwnerID:    s.OwnerID,
		Title:      s.Title,
		Transcript: datatypes.NewJSONType(s.Transcript),
		Artifact:   datatypes.NewJSONType(s.Artifact),
		UIState:    datatypes.JSONMap(s.UIState),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (r *sessionRecord) toSession() *Session {
	s := &Session{
		ID:         r.SessionID,
		OwnerID:    r.OwnerID,
		Title:      r.Title,
		Transcript: r.Transcript.Data(),
		Artifact:   r.Artifact.Data(),
		UIState:    map[string]any(r.UIState),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if s.Transcript == nil {
		s.Transcript = []ChatMessage{}
	}
	if s.UIState == nil {
		s.UIState = map[string]any{}
	}
	return s
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// AutoMigrate creates or updates the tables owned by this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRecord{}, &Job{})
}

func (r *Repo) Create(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(toRecord(s)).Error
}

func (r *Repo) Get(ctx context.Context, ownerID uint64, sessionID string) (*Session, error) {
	var rec sessionRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND owner_id = ?", sessionID, ownerID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec.toSession(), nil
}

// ListByOwner returns summaries, most recently updated first.
func (r *Repo) ListByOwner(ctx context.Context, ownerID uint64) ([]Summary, error) {
	out := []Summary{}
	if err := r.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Select("session_id AS id, title, updated_at").
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC, session_id DESC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, s *Session) error {
	rec := toRecord(s)
	res := r.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Where("session_id = ? AND owner_id = ?", s.ID, s.OwnerID).
		Updates(map[string]any{
			"title":      rec.Title,
			"transcript": rec.Transcript,
			"artifact":   rec.Artifact,
			"ui_state":   rec.UIState,
			"updated_at": rec.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
