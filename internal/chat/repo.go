package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateSessionIfNoneActive inserts the active-session claim and, if the
// claim was won, the session row, in one transaction. When another request
// already holds the claim, the winner's session is returned instead and
// created is false.
func (r *Repo) CreateSessionIfNoneActive(ctx context.Context, s *Session) (sess *Session, created bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ActiveSession{UserID: s.UserID, SessionID: s.SessionID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var claim ActiveSession
			if err := tx.First(&claim, "user_id = ?", s.UserID).Error; err != nil {
				return err
			}
			var existing Session
			if err := tx.First(&existing, "session_id = ?", claim.SessionID).Error; err != nil {
				return err
			}
			sess = &existing
			return nil
		}
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		sess = s
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return sess, created, nil
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ActiveSessionID returns the claimed session id for a user, or "" when the
// user holds no claim.
func (r *Repo) ActiveSessionID(ctx context.Context, userID uint64) (string, error) {
	var claim ActiveSession
	err := r.db.WithContext(ctx).First(&claim, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return claim.SessionID, nil
}

func (r *Repo) ReleaseActiveSession(ctx context.Context, userID uint64, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&ActiveSession{}).Error
}

func (r *Repo) DeactivateSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("is_active", false).Error
}

func (r *Repo) SetSessionTitle(ctx context.Context, sessionID, title string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Update("title", title).Error
}

// ListSessions returns the user's sessions, most recently touched first.
func (r *Repo) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountSessions(ctx context.Context, userID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}

func (r *Repo) InsertTurn(ctx context.Context, t *Turn) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return err
	}
	// keep the session's recency sort honest
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", t.SessionID).
		Update("updated_at", time.Now()).Error
}

// ListTurns returns a session's turns in insertion order (oldest first).
func (r *Repo) ListTurns(ctx context.Context, userID uint64, sessionID string) ([]Turn, error) {
	var out []Turn
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LatestAssistantResponseID scans the user's whole history for the newest
// assistant turn that carries a provider state id. Best-effort fallback for a
// missing continuation pointer.
func (r *Repo) LatestAssistantResponseID(ctx context.Context, userID uint64) (string, error) {
	var t Turn
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND role = ? AND response_id <> ''", userID, "assistant").
		Order("id DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.ResponseID, nil
}

func (r *Repo) GetContinuation(ctx context.Context, userID uint64) (string, error) {
	var p ContinuationPointer
	err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.ResponseID, nil
}

func (r *Repo) UpsertContinuation(ctx context.Context, userID uint64, responseID string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"response_id", "updated_at"}),
	}).Create(&ContinuationPointer{
		UserID:     userID,
		ResponseID: responseID,
		UpdatedAt:  time.Now(),
	}).Error
}

func (r *Repo) GetLastViewed(ctx context.Context, userID uint64) (*LastViewed, error) {
	var lv LastViewed
	err := r.db.WithContext(ctx).First(&lv, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lv, nil
}

func (r *Repo) UpsertLastViewed(ctx context.Context, userID uint64, sessionID string, isHistorical bool) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "is_historical", "updated_at"}),
	}).Create(&LastViewed{
		UserID:       userID,
		SessionID:    sessionID,
		IsHistorical: isHistorical,
		UpdatedAt:    time.Now(),
	}).Error
}
