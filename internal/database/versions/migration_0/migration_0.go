package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BalanceJob struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name   string    `gorm:"not null"`
	Status string    `gorm:"size:20;not null;index"`

	InputKey  string
	OutputKey string

	Targets       datatypes.JSON `gorm:"type:jsonb;not null"`
	IgnoreTags    datatypes.JSON `gorm:"type:jsonb"`
	MaxIterations int            `gorm:"default:0"`
	TagColumn     int            `gorm:"default:-1"`
	Strict        bool           `gorm:"default:false"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	TotalSentences    int `gorm:"default:0"`
	SelectedSentences int `gorm:"default:0"`
	TotalTags         int `gorm:"default:0"`
	Badness           int `gorm:"default:0"`

	Tags   []BalanceJobTag `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors []JobError      `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type BalanceJobTag struct {
	JobId  uuid.UUID `gorm:"type:uuid;primaryKey"`
	Tag    string    `gorm:"primaryKey"`
	Count  int       `gorm:"default:0"`
	Target int       `gorm:"default:0"`
	Diff   int       `gorm:"default:0"`
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&BalanceJob{}, &BalanceJobTag{}, &JobError{})
}
