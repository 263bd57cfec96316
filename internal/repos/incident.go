package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

type IncidentRepo interface {
	Save(ctx context.Context, tx *gorm.DB, inc *convo.CrisisIncident) error
	ListForUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.CrisisIncident, error)
}

type incidentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIncidentRepo(db *gorm.DB, baseLog *logger.Logger) IncidentRepo {
	return &incidentRepo{db: db, log: baseLog.With("repo", "IncidentRepo")}
}

func (r *incidentRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *incidentRepo) Save(ctx context.Context, tx *gorm.DB, inc *convo.CrisisIncident) error {
	if inc == nil || inc.TurnID == uuid.Nil {
		// Incidents must reference a turn that was persisted first.
		return apperrors.ErrValidation
	}
	return r.conn(tx).WithContext(ctx).Create(inc).Error
}

func (r *incidentRepo) ListForUserSince(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since time.Time) ([]*convo.CrisisIncident, error) {
	var results []*convo.CrisisIncident
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
