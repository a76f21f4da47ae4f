package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type BalanceJob struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name   string    `gorm:"not null"`
	Status string    `gorm:"size:20;not null;index"`

	InputKey  string
	OutputKey string

	Targets       datatypes.JSON `gorm:"type:jsonb;not null"` // {"B-ORG": 300, ...}
	IgnoreTags    datatypes.JSON `gorm:"type:jsonb"`          // ["O", ...]
	MaxIterations int            `gorm:"default:0"`
	TagColumn     int            `gorm:"not null"`
	Strict        bool           `gorm:"default:false"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	TotalSentences    int  `gorm:"default:0"`
	SelectedSentences int  `gorm:"default:0"`
	TotalTags         int  `gorm:"default:0"`
	Badness           int  `gorm:"default:0"`
	Iterations        int  `gorm:"default:0"`
	Converged         bool `gorm:"default:false"`

	Tags   []BalanceJobTag `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors []JobError      `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

func (j *BalanceJob) GetTargets() (map[string]int, error) {
	targets := map[string]int{}
	if len(j.Targets) == 0 {
		return targets, nil
	}
	if err := json.Unmarshal(j.Targets, &targets); err != nil {
		return nil, fmt.Errorf("invalid targets for job %s: %w", j.Id, err)
	}
	return targets, nil
}

func (j *BalanceJob) GetIgnoreTags() ([]string, error) {
	var tags []string
	if len(j.IgnoreTags) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(j.IgnoreTags, &tags); err != nil {
		return nil, fmt.Errorf("invalid ignore tags for job %s: %w", j.Id, err)
	}
	return tags, nil
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
