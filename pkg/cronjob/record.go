package cronjob

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
)

const (
	MAX_GO_ROUTINE_NUM = 10
)

// GetCronjobNames retrieves all cron job names from database
func (cm *CronJobManager) GetCronjobNames(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	if err := cm.db.WithContext(ctx).Model(&model.CronJobConfig{}).Select("name").Find(&names).Error; err != nil {
		err := fmt.Errorf("CronJobManager.GetCronjobNames: %w", err)
		klog.Error(err)
		return nil, err
	}
	return names, nil
}

// GetCronjobRecordTimeRange retrieves the time range of all cronjob records
func (cm *CronJobManager) GetCronjobRecordTimeRange(ctx context.Context) (startTime, endTime time.Time, err error) {
	var result struct {
		StartTime time.Time
		EndTime   time.Time
	}
	err = cm.db.
		WithContext(ctx).
		Model(&model.CronJobRecord{}).
		Select("min(execute_time) as start_time", "max(execute_time) as end_time").
		Scan(&result).
		Error
	if err != nil {
		err = fmt.Errorf("CronJobManager.GetCronjobRecordTimeRange: %w", err)
		klog.Error(err)
		return time.Time{}, time.Time{}, err
	}
	startTime = result.StartTime.AddDate(0, 0, -1)
	endTime = result.EndTime.AddDate(0, 0, 1)

	return startTime, endTime, nil
}

func (cm *CronJobManager) recordQuery(
	ctx context.Context,
	names []string,
	startTime *time.Time,
	endTime *time.Time,
	status *string,
) *gorm.DB {
	tx := cm.db.WithContext(ctx)
	if len(names) > 0 {
		tx = tx.Where("name IN ?", names)
	}
	if startTime != nil {
		tx = tx.Where("execute_time >= ?", *startTime)
	}
	if endTime != nil {
		tx = tx.Where("execute_time <= ?", *endTime)
	}
	if status != nil {
		tx = tx.Where("status = ?", *status)
	}
	return tx
}

// GetCronjobRecords retrieves cronjob records with pagination and filtering
func (cm *CronJobManager) GetCronjobRecords(
	ctx context.Context,
	names []string,
	startTime *time.Time,
	endTime *time.Time,
	status *string,
) (records []*model.CronJobRecord, total int64, err error) {
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(MAX_GO_ROUTINE_NUM)

	g.Go(func() error {
		err := cm.recordQuery(groupCtx, names, startTime, endTime, status).
			Find(&records).Error
		if err != nil {
			err := fmt.Errorf("CronJobManager.GetCronjobRecords: %w", err)
			klog.Error(err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := cm.recordQuery(groupCtx, names, startTime, endTime, status).
			Model(&model.CronJobRecord{}).
			Count(&total).
			Error
		if err != nil {
			err := fmt.Errorf("CronJobManager.GetCronjobRecords: %w", err)
			klog.Error(err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		err := fmt.Errorf("CronJobManager.GetCronjobRecords: %w", err)
		klog.Error(err)
		return nil, 0, err
	}

	return records, total, nil
}

// DeleteCronjobRecords deletes cronjob records based on the given criteria
func (cm *CronJobManager) DeleteCronjobRecords(
	ctx context.Context,
	ids []uint,
	startTime *time.Time,
	endTime *time.Time,
) (int64, error) {
	tx := cm.db.WithContext(ctx)

	if len(ids) > 0 {
		tx = tx.Where("id IN ?", ids)
	}

	if startTime != nil {
		tx = tx.Where("execute_time >= ?", *startTime)
	}
	if endTime != nil {
		tx = tx.Where("execute_time <= ?", *endTime)
	}

	res := tx.Delete(&model.CronJobRecord{})
	if err := res.Error; err != nil {
		err := fmt.Errorf("CronJobManager.DeleteCronjobRecords: %w", err)
		klog.Error(err)
		return 0, err
	}

	return res.RowsAffected, nil
}
