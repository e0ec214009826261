package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CronJobRecordStatus string

const (
	CronJobRecordStatusUnknown CronJobRecordStatus = "unknown"
	CronJobRecordStatusSuccess CronJobRecordStatus = "success"
	CronJobRecordStatusFailed  CronJobRecordStatus = "failed"
)

// CronJobRecord is one execution row of a scheduled job.
type CronJobRecord struct {
	gorm.Model
	Name        string              `gorm:"type:varchar(128);not null;index;comment:cronjob name"`
	ExecuteTime time.Time           `gorm:"not null;index;comment:execution time"`
	Status      CronJobRecordStatus `gorm:"type:varchar(128);not null;index;default:unknown;comment:execution status"`
	Message     string              `gorm:"type:text;comment:execution message or error"`
	JobData     datatypes.JSON      `gorm:"type:jsonb;comment:job data (affected project lists)"`
}

func (CronJobRecord) TableName() string {
	return "cron_job_records"
}

type CronJobType string

func (c CronJobType) String() string {
	return string(c)
}

const (
	// Archive unsubmitted projects past the submission deadline.
	CronJobTypeSubmissionTimeout CronJobType = "submission_timeout"
	// Notify authors whose submission deadline approaches.
	CronJobTypeDeadlineReminder CronJobType = "deadline_reminder"
	// Re-dispatch stuck background tasks.
	CronJobTypeTaskSweep CronJobType = "task_sweep"
)

func GetAllCronJobTypes() []CronJobType {
	return []CronJobType{
		CronJobTypeSubmissionTimeout,
		CronJobTypeDeadlineReminder,
		CronJobTypeTaskSweep,
	}
}

// CronJobConfig stores the schedule of one job type.
type CronJobConfig struct {
	gorm.Model
	Name    string         `gorm:"type:varchar(128);not null;index;unique;comment:cronjob config name"`
	Type    CronJobType    `gorm:"type:varchar(128);not null;index;comment:cronjob type"`
	Spec    string         `gorm:"type:varchar(128);not null;index;comment:cron schedule spec"`
	Suspend *bool          `gorm:"not null;default:false;comment:whether execution is paused"`
	Config  datatypes.JSON `gorm:"type:jsonb;comment:job parameters"`
	EntryID int            `gorm:"type:int;comment:scheduler entry id"`
}

func (c *CronJobConfig) GetSuspend() bool {
	var v bool
	if c.Suspend != nil {
		v = *c.Suspend
	}
	return v
}

func (CronJobConfig) TableName() string {
	return "cron_job_configs"
}
