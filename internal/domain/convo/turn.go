package convo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Turn is one logical unit of conversation: either a coalesced user message
// with its derived mood fields, or an assistant reply. Immutable once saved.
type Turn struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	Sender  string `gorm:"type:text;not null;index" json:"sender"`
	Content string `gorm:"type:text;not null" json:"content"`

	Mood      string         `gorm:"type:text;index" json:"mood,omitempty"`
	Intensity int            `gorm:"default:0" json:"intensity,omitempty"`
	Themes    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"themes"`

	NeedsSupport bool `gorm:"default:false" json:"needs_support"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Turn) TableName() string { return "turn" }

func (t *Turn) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
