package cronjob

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// SubmissionTimeoutConfig drives the overdue-draft archiver.
type SubmissionTimeoutConfig struct {
	TimeoutDays int `json:"timeoutDays"`
}

// DeadlineReminderConfig drives the approaching-deadline notifier.
type DeadlineReminderConfig struct {
	TimeoutDays  int `json:"timeoutDays"`
	ReminderDays int `json:"reminderDays"`
}

// TaskSweepConfig drives the stuck-task sweeper.
type TaskSweepConfig struct {
	OlderThanMinutes int `json:"olderThanMinutes"`
}

// wrapRecorded turns a job body into a cron function that writes one
// execution record per run, success or failure.
func (cm *CronJobManager) wrapRecorded(jobName string, body func() (any, error)) cron.FuncJob {
	return func() {
		record := model.CronJobRecord{
			Name:        jobName,
			ExecuteTime: time.Now(),
			Status:      model.CronJobRecordStatusUnknown,
		}
		result, err := body()
		if err != nil {
			record.Status = model.CronJobRecordStatusFailed
			record.Message = err.Error()
			klog.Errorf("cron job %s failed: %v", jobName, err)
		} else {
			record.Status = model.CronJobRecordStatusSuccess
		}
		if result != nil {
			if data, merr := json.Marshal(result); merr == nil {
				record.JobData = data
			}
		}
		if dberr := cm.db.Create(&record).Error; dberr != nil {
			klog.Errorf("cron job %s: record execution: %v", jobName, dberr)
		}
	}
}

// runSubmissionTimeout archives drafts whose submission deadline has
// passed. Projects under submission are never touched; the deadline
// only applies to unsubmitted drafts.
func (cm *CronJobManager) runSubmissionTimeout(jobConfig datatypes.JSON) (any, error) {
	cfg := SubmissionTimeoutConfig{TimeoutDays: 180}
	if len(jobConfig) > 0 {
		if err := json.Unmarshal(jobConfig, &cfg); err != nil {
			return nil, err
		}
	}

	cutoff := time.Now().AddDate(0, 0, -cfg.TimeoutDays)
	var overdue []model.ActiveProject
	err := cm.db.
		Where("submission_status = ? AND creation_datetime < ?", model.StatusDraft, cutoff).
		Find(&overdue).Error
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	archived := make([]string, 0, len(overdue))
	for i := range overdue {
		if _, err := cm.svc.Archive(ctx, overdue[i].ID, model.ArchiveTimeout); err != nil {
			klog.Errorf("submission timeout: archive %s: %v", overdue[i].Slug, err)
			continue
		}
		archived = append(archived, overdue[i].Slug)
	}
	return map[string]any{"archived": archived}, nil
}

// runDeadlineReminder notifies the authors of drafts whose deadline
// falls within the reminder window.
func (cm *CronJobManager) runDeadlineReminder(jobConfig datatypes.JSON) (any, error) {
	cfg := DeadlineReminderConfig{TimeoutDays: 180, ReminderDays: 14}
	if len(jobConfig) > 0 {
		if err := json.Unmarshal(jobConfig, &cfg); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	windowStart := now.AddDate(0, 0, -cfg.TimeoutDays)
	windowEnd := windowStart.AddDate(0, 0, cfg.ReminderDays)
	var expiring []model.ActiveProject
	err := cm.db.
		Where("submission_status = ? AND creation_datetime >= ? AND creation_datetime < ?",
			model.StatusDraft, windowStart, windowEnd).
		Find(&expiring).Error
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	reminded := make([]string, 0, len(expiring))
	for i := range expiring {
		project := &expiring[i]
		deadline := project.SubmissionInfo.CreationDatetime.AddDate(0, 0, cfg.TimeoutDays)
		event := notify.Event{
			Kind:         notify.EventDeadlineReminder,
			ProjectTitle: project.Metadata.Title,
			ProjectSlug:  project.Slug,
			Recipients:   cm.projectAuthorEmails(project.ID),
			Message:      "Submission deadline: " + deadline.Format("2006-01-02"),
		}
		if err := cm.notifier.Notify(ctx, event); err != nil {
			klog.Errorf("deadline reminder for %s: %v", project.Slug, err)
			continue
		}
		reminded = append(reminded, project.Slug)
	}
	return map[string]any{"reminded": reminded}, nil
}

// runTaskSweep requeues tasks stranded in the running state by a crash
// and processes whatever is due.
func (cm *CronJobManager) runTaskSweep(jobConfig datatypes.JSON) (any, error) {
	cfg := TaskSweepConfig{OlderThanMinutes: 30}
	if len(jobConfig) > 0 {
		if err := json.Unmarshal(jobConfig, &cfg); err != nil {
			return nil, err
		}
	}

	requeued, err := cm.queue.RequeueStuck(time.Duration(cfg.OlderThanMinutes) * time.Minute)
	if err != nil {
		return nil, err
	}
	cm.queue.RunOnce(context.Background())
	return map[string]any{"requeued": requeued}, nil
}

func (cm *CronJobManager) projectAuthorEmails(projectID uint) []string {
	var emails []string
	err := cm.db.Model(&model.Author{}).
		Joins("JOIN users ON users.id = authors.user_id").
		Where("authors.owner_kind = ? AND authors.owner_id = ?", model.OwnerActive, projectID).
		Pluck("users.email", &emails).Error
	if err != nil {
		klog.Errorf("resolve author emails for project %d: %v", projectID, err)
		return nil
	}
	return emails
}
