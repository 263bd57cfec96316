package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

type TurnRepo interface {
	Save(ctx context.Context, tx *gorm.DB, t *convo.Turn) error
	// ListUserTurnsSince returns the user's own turns committed on or after
	// since, oldest first. Assistant turns are excluded.
	ListUserTurnsSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error)
	// ListTurnsSince returns both sides of the conversation, oldest first.
	ListTurnsSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error)
	CountForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	// ActiveUserIDsSince lists distinct users who sent at least one turn on
	// or after since. Feeds the daily summary fan-out.
	ActiveUserIDsSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error)
}

type turnRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTurnRepo(db *gorm.DB, baseLog *logger.Logger) TurnRepo {
	return &turnRepo{db: db, log: baseLog.With("repo", "TurnRepo")}
}

func (r *turnRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *turnRepo) Save(ctx context.Context, tx *gorm.DB, t *convo.Turn) error {
	return r.conn(tx).WithContext(ctx).Create(t).Error
}

func (r *turnRepo) ListUserTurnsSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error) {
	var results []*convo.Turn
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND sender = ? AND created_at >= ?", userID, convo.SenderUser, since).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *turnRepo) ListTurnsSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.Turn, error) {
	var results []*convo.Turn
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *turnRepo) CountForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&convo.Turn{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *turnRepo) ActiveUserIDsSince(ctx context.Context, tx *gorm.DB, since time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.conn(tx).WithContext(ctx).
		Model(&convo.Turn{}).
		Distinct("user_id").
		Where("sender = ? AND created_at >= ?", convo.SenderUser, since).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
