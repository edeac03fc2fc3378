package checkin

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, c *Checkin) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// ListRecent returns the newest check-ins first.
func (r *Repo) ListRecent(ctx context.Context, userID uint64, limit int) ([]Checkin, error) {
	if limit <= 0 {
		limit = 30
	}
	var out []Checkin
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Count(ctx context.Context, userID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Checkin{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}
