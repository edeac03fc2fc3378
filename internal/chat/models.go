package chat

import "time"

// Session categories mirror the conversation modes the companion offers.
const (
	CategoryGeneral = "general"
	CategoryCrisis  = "crisis"
	CategoryClarity = "clarity"
	CategoryCheckin = "checkin"
)

func ValidCategory(c string) bool {
	switch c {
	case CategoryGeneral, CategoryCrisis, CategoryClarity, CategoryCheckin:
		return true
	}
	return false
}

type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64    `gorm:"index:idx_chat_sessions_user_created,priority:1;not null" json:"-"`
	Title     string    `gorm:"type:varchar(120)" json:"title"`
	Category  string    `gorm:"type:varchar(16);not null;default:'general'" json:"category"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	Summary   string    `gorm:"type:text" json:"summary,omitempty"`
	Mood      string    `gorm:"type:varchar(16)" json:"mood,omitempty"`
	CreatedAt time.Time `gorm:"index:idx_chat_sessions_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Turn is one exchange unit. Append-only: rows are never updated after
// insert, and per-session order is the auto-increment id.
type Turn struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(26);not null;index:idx_chat_turns_user_session,priority:2" json:"session_id"`
	UserID    uint64 `gorm:"not null;index:idx_chat_turns_user_session,priority:1" json:"-"`
	Role      string `gorm:"type:varchar(16);not null" json:"role"`
	Content   string `gorm:"type:text;not null" json:"content"`

	// Classification metadata, assistant turns only.
	Mood      string   `gorm:"type:varchar(32)" json:"mood,omitempty"`
	Tags      []string `gorm:"serializer:json;type:text" json:"tags,omitempty"`
	Sentiment string   `gorm:"type:varchar(32)" json:"sentiment,omitempty"`

	// ResponseID is the provider state id attached to assistant turns. It is
	// the fallback continuation source when the pointer record is missing.
	ResponseID string `gorm:"type:varchar(64)" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Turn) TableName() string { return "chat_turns" }

// ContinuationPointer holds the most recent provider state id per user.
// Exactly one row per user, last writer wins.
type ContinuationPointer struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"uniqueIndex;not null"`
	ResponseID string    `gorm:"type:varchar(64);not null"`
	UpdatedAt  time.Time
}

func (ContinuationPointer) TableName() string { return "continuation_pointers" }

// LastViewed records which session a user's UI considers current and whether
// they are browsing history read-only. One row per user, upserted.
type LastViewed struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID       uint64    `gorm:"uniqueIndex;not null" json:"-"`
	SessionID    string    `gorm:"type:varchar(26);not null" json:"session_id"`
	IsHistorical bool      `gorm:"not null;default:false" json:"is_historical"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (LastViewed) TableName() string { return "last_viewed_sessions" }

// ActiveSession is the uniqueness claim behind the at-most-one-active-session
// invariant. The primary key on user_id makes concurrent creation attempts
// race on the insert, so exactly one wins even across processes.
type ActiveSession struct {
	UserID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	SessionID string `gorm:"type:varchar(26);not null"`
	CreatedAt time.Time
}

func (ActiveSession) TableName() string { return "active_sessions" }
