// Package cronjob schedules the recurring maintenance of the review
// workflow: archiving overdue unsubmitted projects, reminding authors
// of approaching deadlines, and sweeping stuck background tasks.
// Schedules live in the database and can be changed at runtime.
package cronjob

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/submission"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

type CronJobManager struct {
	db        *gorm.DB
	svc       *submission.Service
	queue     *taskqueue.Queue
	notifier  notify.Notifier
	cron      *cron.Cron
	cronMutex sync.RWMutex
}

func NewCronJobManager(db *gorm.DB, svc *submission.Service, queue *taskqueue.Queue, notifier notify.Notifier) *CronJobManager {
	return &CronJobManager{
		db:       db,
		svc:      svc,
		queue:    queue,
		notifier: notifier,
		cron:     cron.New(cron.WithLocation(time.Local)),
	}
}

// AddCronJob adds a job to the scheduler based on its type.
func (cm *CronJobManager) AddCronJob(
	jobName string,
	jobSpec string,
	jobType model.CronJobType,
	jobConfig datatypes.JSON,
) (cron.EntryID, error) {
	f, err := cm.newCronJobFunc(jobName, jobType, jobConfig)
	if err != nil {
		klog.Error(err)
		return -1, err
	}

	entryID, err := cm.cron.AddFunc(jobSpec, f)
	if err != nil {
		klog.Error(err)
		return -1, err
	}
	return entryID, nil
}

// newCronJobFunc builds the job function for a job type, wrapped so
// every run leaves an execution record.
func (cm *CronJobManager) newCronJobFunc(jobName string, jobType model.CronJobType, jobConfig datatypes.JSON) (cron.FuncJob, error) {
	switch jobType {
	case model.CronJobTypeSubmissionTimeout:
		return cm.wrapRecorded(jobName, func() (any, error) {
			return cm.runSubmissionTimeout(jobConfig)
		}), nil
	case model.CronJobTypeDeadlineReminder:
		return cm.wrapRecorded(jobName, func() (any, error) {
			return cm.runDeadlineReminder(jobConfig)
		}), nil
	case model.CronJobTypeTaskSweep:
		return cm.wrapRecorded(jobName, func() (any, error) {
			return cm.runTaskSweep(jobConfig)
		}), nil
	default:
		return nil, fmt.Errorf("unsupported cron job type: %s", jobType)
	}
}

// UpdateJobConfig updates the stored configuration of a job and keeps
// the running scheduler in step with it.
func (cm *CronJobManager) UpdateJobConfig(
	name string,
	jobType *model.CronJobType,
	spec *string,
	suspend *bool,
	config *string,
) error {
	cm.cronMutex.Lock()
	defer cm.cronMutex.Unlock()

	var (
		cur    *model.CronJobConfig
		update *model.CronJobConfig
		err    error
	)

	return cm.db.Transaction(func(tx *gorm.DB) error {
		cur, err = cm.getCurrentJobConfigFromDB(tx, name)
		if err != nil {
			return err
		}

		update = cm.prepareUpdateConfig(cur, jobType, spec, suspend, config)

		if suspend != nil && !cur.GetSuspend() && *suspend {
			return cm.updateSuspendedJobConfig(tx, name, cur, update)
		}
		if suspend != nil && !*suspend {
			return cm.updateActiveJobConfig(tx, name, cur, update)
		}
		return tx.Model(cur).Where("name = ?", name).Updates(update).Error
	})
}

func (cm *CronJobManager) getCurrentJobConfigFromDB(tx *gorm.DB, name string) (*model.CronJobConfig, error) {
	cur := &model.CronJobConfig{}
	if txErr := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Model(cur).
		Where("name = ?", name).
		First(cur).Error; txErr != nil {
		err := fmt.Errorf("CronJobManager.getCurrentJobConfigFromDB failed: %w", txErr)
		klog.Error(err)
		return nil, err
	}
	return cur, nil
}

func (cm *CronJobManager) prepareUpdateConfig(
	cur *model.CronJobConfig,
	jobType *model.CronJobType,
	spec *string,
	suspend *bool,
	config *string,
) *model.CronJobConfig {
	update := &model.CronJobConfig{
		Name:    cur.Name,
		Type:    cur.Type,
		Spec:    cur.Spec,
		Suspend: cur.Suspend,
		Config:  cur.Config,
	}
	if jobType != nil {
		update.Type = *jobType
	}
	if spec != nil && *spec != "" {
		update.Spec = *spec
	}
	if suspend != nil {
		update.Suspend = suspend
	}
	if config != nil && *config != "" {
		update.Config = datatypes.JSON(*config)
	}
	return update
}

func (cm *CronJobManager) updateSuspendedJobConfig(
	tx *gorm.DB,
	name string,
	cur *model.CronJobConfig,
	update *model.CronJobConfig,
) error {
	curEntryID := cur.EntryID
	update.EntryID = -1
	if err := tx.Model(cur).Where("name = ?", name).Updates(update).Error; err != nil {
		err := fmt.Errorf("CronJobManager.updateSuspendedJobConfig failed to update cron job config for job %s: %w", name, err)
		klog.Error(err)
		return err
	}
	cm.cron.Remove(cron.EntryID(curEntryID))
	return nil
}

func (cm *CronJobManager) updateActiveJobConfig(
	tx *gorm.DB,
	name string,
	cur *model.CronJobConfig,
	update *model.CronJobConfig,
) error {
	if !cur.GetSuspend() && cm.jobNeedsUpdate(cur, update) {
		cm.cron.Remove(cron.EntryID(cur.EntryID))
	}
	entryID, err := cm.AddCronJob(name, update.Spec, update.Type, update.Config)
	if err != nil {
		err := fmt.Errorf("addCronJob failed: %w", err)
		klog.Error(err)
		return err
	}
	update.EntryID = int(entryID)
	if err := tx.Model(cur).Where("name = ?", name).Updates(update).Error; err != nil {
		err := fmt.Errorf("DB failed to update cron job config for job %s: %w", name, err)
		cm.cron.Remove(entryID)
		klog.Error(err)
		return err
	}
	return nil
}

func (cm *CronJobManager) jobNeedsUpdate(cur, update *model.CronJobConfig) bool {
	if cur.Type != update.Type {
		return true
	}
	if cur.Spec != update.Spec {
		return true
	}
	if update.Config != nil && string(cur.Config) != string(update.Config) {
		return true
	}
	return false
}

// SyncCronJob loads the non-suspended jobs from the database and
// starts the scheduler.
func (cm *CronJobManager) SyncCronJob() {
	cm.cronMutex.Lock()
	defer cm.cronMutex.Unlock()
	cm.cron.Start()
	err := cm.db.Transaction(func(tx *gorm.DB) error {
		var configs []*model.CronJobConfig
		if err := cm.db.Where("suspend = ?", false).Find(&configs).Error; err != nil {
			klog.Errorf("CronJobManager.SyncCronJob: failed to load cron job configs: %v", err)
			return nil
		}
		klog.Infof("CronJobManager.SyncCronJob: loaded %d non-suspended cron jobs from database", len(configs))

		for _, conf := range configs {
			entryID, err := cm.AddCronJob(conf.Name, conf.Spec, conf.Type, conf.Config)
			if err != nil {
				klog.Errorf("CronJobManager.AddCronJob: failed to add cron job %s with spec %s: %v", conf.Name, conf.Spec, err)
				continue
			}
			if int(entryID) != conf.EntryID {
				err := tx.
					Model(&model.CronJobConfig{}).
					Where("name = ?", conf.Name).
					Update("entry_id", int(entryID)).
					Error
				if err != nil {
					klog.Errorf("DB failed to update entry_id for job %s: %v", conf.Name, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		klog.Error(err)
	}
	klog.Info("CronJobManager.SyncCronJob: cron scheduler started")
}

// StopCron stops the cron scheduler.
func (cm *CronJobManager) StopCron() {
	cm.cronMutex.Lock()
	defer cm.cronMutex.Unlock()
	cm.cron.Stop()
}
