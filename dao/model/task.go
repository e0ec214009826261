package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskKind names a background job type.
type TaskKind string

func (k TaskKind) String() string {
	return string(k)
}

const (
	// Post-publish file finalization: checksum manifest, read-only
	// locking, optional zip, storage-size refresh.
	TaskKindPostPublishFiles TaskKind = "post_publish_files"
	// Remote DOI registration or metadata update.
	TaskKindDOIUpdate TaskKind = "doi_update"
)

// TaskStatus is the queue state of a background job.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed" // retries exhausted
)

// Task is a typed background job record. Workers claim pending rows
// whose NextRunTime has passed; failed attempts reschedule with
// backoff until MaxAttempts is reached.
type Task struct {
	gorm.Model
	Kind        TaskKind       `gorm:"type:varchar(64);not null;index;comment:job type"`
	Payload     datatypes.JSON `gorm:"type:jsonb;comment:job parameters"`
	Status      TaskStatus     `gorm:"type:varchar(16);not null;default:pending;index;comment:queue state"`
	Attempts    int            `gorm:"not null;default:0;comment:attempts so far"`
	MaxAttempts int            `gorm:"not null;default:3;comment:retry budget"`
	NextRunTime time.Time      `gorm:"not null;index;comment:earliest next execution"`
	LastError   string         `gorm:"type:text;comment:error of the latest attempt"`
}
