package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ExhaustedWebhook is a dead lettered webhook that kept failing after every replay.
type ExhaustedWebhook struct {
	ID              uint           `gorm:"primaryKey"`
	CreatedAt       time.Time
	Instance        string         `gorm:"index;not null"`
	SourceSubject   string         `gorm:"index;not null"`
	LastError       string
	RetryCount      int
	EventTimestamp  time.Time      `gorm:"index"`
	DLQPayload      datatypes.JSON `gorm:"type:jsonb;not null"`
	OriginalPayload datatypes.JSON `gorm:"type:jsonb"`
	Resolved        bool           `gorm:"index;default:false"`
	ResolvedAt      *time.Time
	Notes           string         `gorm:"type:text"`
}

// TableName specifies the table name, respecting the Namer.
func (ExhaustedWebhook) TableName(namer schema.Namer) string {
	return namer.TableName("exhausted_webhooks")
}
