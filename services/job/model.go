package job

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// RewardJob is one unit of "issue this reward for this trigger". Rows are
// created by event handlers, mutated only by the dispatcher and never deleted;
// completed and failed are terminal.
type RewardJob struct {
	ID        string         `gorm:"column:id;primaryKey;type:char(26)"`
	JobType   string         `gorm:"column:job_type;type:varchar(40);index;not null"`
	UserID    string         `gorm:"column:user_id;index;not null"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	Status    Status         `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	Attempts  int            `gorm:"column:attempts;not null;default:0"`
	LastError string         `gorm:"column:last_error;type:text"`
	CreatedAt time.Time      `gorm:"column:created_at;index"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}
