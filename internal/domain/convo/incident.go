package convo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Crisis severity ladder, ordered. Keyword-confirmed incidents never drop
// below medium.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	SignalKeyword = "keyword"
	SignalModel   = "model"
)

const (
	CrisisSuicidal       = "suicidal"
	CrisisSelfHarm       = "self_harm"
	CrisisSevereDistress = "severe_distress"
)

// CrisisIncident is an append-only record written for every flagged turn.
// TurnID always references a turn that was persisted first.
type CrisisIncident struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	TurnID uuid.UUID `gorm:"type:uuid;not null;index" json:"turn_id"`

	Severity   string `gorm:"type:text;not null" json:"severity"`
	Source     string `gorm:"type:text;not null" json:"source"`
	CrisisType string `gorm:"type:text;not null" json:"crisis_type"`

	// ResourcesSent lists the helplines included in the reply.
	ResourcesSent datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"resources_sent"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (CrisisIncident) TableName() string { return "crisis_incident" }

func (i *CrisisIncident) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// SeverityRank orders severities for floor/raise comparisons.
func SeverityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the higher-ranked of two severities.
func MaxSeverity(a, b string) string {
	if SeverityRank(a) >= SeverityRank(b) {
		return a
	}
	return b
}
