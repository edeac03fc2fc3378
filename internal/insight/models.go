package insight

import "time"

// PatternRecord is one deduplicated observation batch distilled from a
// session. Read-only once written; older records bias future reductions.
type PatternRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"index:idx_patterns_user_created,priority:1;not null" json:"-"`
	SessionID string    `gorm:"type:varchar(26);index;not null" json:"session_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"index:idx_patterns_user_created,priority:2" json:"created_at"`
}

func (PatternRecord) TableName() string { return "pattern_records" }

// Insight is a one-session digest: a summary plus the concern and mood read
// the capability extracted. Feeds the codex report.
type Insight struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64    `gorm:"index;not null" json:"-"`
	SessionID   string    `gorm:"type:varchar(26);index;not null" json:"session_id"`
	Summary     string    `gorm:"type:text;not null" json:"summary"`
	MainConcern string    `gorm:"type:varchar(255)" json:"main_concern,omitempty"`
	MoodInsight string    `gorm:"type:varchar(255)" json:"mood_insight,omitempty"`
	Tags        []string  `gorm:"serializer:json;type:text" json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Insight) TableName() string { return "insights" }
