package checkin

import "time"

// Checkin is one daily self-report. Scores run 1-10.
type Checkin struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"index:idx_checkins_user_created,priority:1;not null" json:"-"`
	Mood      int       `gorm:"not null" json:"mood"`
	Anxiety   int       `gorm:"not null" json:"anxiety"`
	Sensory   int       `gorm:"not null" json:"sensory"`
	Executive int       `gorm:"not null" json:"executive"`
	Energy    int       `gorm:"not null" json:"energy"`
	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `gorm:"index:idx_checkins_user_created,priority:2" json:"created_at"`
}

func (Checkin) TableName() string { return "checkins" }

// Valid reports whether every score is inside the 1-10 band.
func (c *Checkin) Valid() bool {
	for _, v := range []int{c.Mood, c.Anxiety, c.Sensory, c.Executive, c.Energy} {
		if v < 1 || v > 10 {
			return false
		}
	}
	return true
}
