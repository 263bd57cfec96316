package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Onboarding step values stored on the user row. Steps only move forward
// (or jump to done); an explicit reset is the one backward transition.
const (
	StepNotStarted  = 0
	StepName        = 1
	StepTimezone    = 2
	StepSummaryTime = 3
	StepLanguage    = 4
	StepComplete    = -1
)

type User struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PhoneNumber string    `gorm:"uniqueIndex;not null;column:phone_number" json:"phone_number"`

	DisplayName string `gorm:"column:display_name" json:"display_name"`

	// LanguagePref is "english", "hindi" or "mixed".
	LanguagePref string `gorm:"column:language_pref;default:'mixed'" json:"language_pref"`
	// SummaryTime is the preferred daily summary time, "HH:MM" 24h.
	SummaryTime    string `gorm:"column:summary_time;default:'22:00'" json:"summary_time"`
	SummaryEnabled bool   `gorm:"column:summary_enabled;default:true" json:"summary_enabled"`
	Timezone       string `gorm:"column:timezone;default:'Asia/Kolkata'" json:"timezone"`

	OnboardingStep int  `gorm:"column:onboarding_step;default:0" json:"onboarding_step"`
	OnboardingDone bool `gorm:"column:onboarding_done;default:false" json:"onboarding_done"`

	// LastSummaryAt records the most recent daily summary delivery, so a
	// manual sweep inside the due window cannot double-send.
	LastSummaryAt time.Time `gorm:"column:last_summary_at" json:"last_summary_at"`

	LastActiveAt time.Time      `gorm:"column:last_active_at;not null;default:now()" json:"last_active_at"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "app_user" }

// BeforeCreate assigns the id client-side so the sqlite dev path works
// without the uuid extension.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
