package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/saathi-app/saathi-backend/internal/domain/user"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

type UserRepo interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*user.User, error)
	GetByPhone(ctx context.Context, tx *gorm.DB, phone string) (*user.User, error)
	// GetOrCreateByPhone returns the existing user for a channel address or
	// creates one on first contact. Safe under concurrent first messages.
	GetOrCreateByPhone(ctx context.Context, tx *gorm.DB, phone string) (*user.User, error)
	TouchLastActive(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	// MarkSummarySent stamps the last daily-summary delivery time.
	MarkSummarySent(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	// SaveOnboardingState persists the onboarding step plus any profile
	// fields collected so far.
	SaveOnboardingState(ctx context.Context, tx *gorm.DB, u *user.User) error
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *userRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*user.User, error) {
	var u user.User
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetByPhone(ctx context.Context, tx *gorm.DB, phone string) (*user.User, error) {
	var u user.User
	err := r.conn(tx).WithContext(ctx).Where("phone_number = ?", phone).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) GetOrCreateByPhone(ctx context.Context, tx *gorm.DB, phone string) (*user.User, error) {
	u := &user.User{
		PhoneNumber:    phone,
		LanguagePref:   "mixed",
		SummaryTime:    "22:00",
		SummaryEnabled: true,
		Timezone:       "Asia/Kolkata",
		LastActiveAt:   time.Now(),
	}
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone_number"}},
			DoNothing: true,
		}).
		Create(u).Error
	if err != nil {
		return nil, err
	}
	// On conflict the insert returns no row, so read back either way.
	return r.GetByPhone(ctx, tx, phone)
}

func (r *userRepo) TouchLastActive(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", id).
		Update("last_active_at", at).Error
}

func (r *userRepo) MarkSummarySent(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", id).
		Update("last_summary_at", at).Error
}

func (r *userRepo) SaveOnboardingState(ctx context.Context, tx *gorm.DB, u *user.User) error {
	if u == nil || u.ID == uuid.Nil {
		return apperrors.ErrValidation
	}
	return r.conn(tx).WithContext(ctx).
		Model(&user.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"display_name":    u.DisplayName,
			"language_pref":   u.LanguagePref,
			"summary_time":    u.SummaryTime,
			"summary_enabled": u.SummaryEnabled,
			"timezone":        u.Timezone,
			"onboarding_step": u.OnboardingStep,
			"onboarding_done": u.OnboardingDone,
		}).Error
}
