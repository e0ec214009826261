package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/pkg/cronjob"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewOperationsMgr)
}

// OperationsMgr exposes the maintenance surface: scheduled job
// configuration, execution records and the background task queue.
type OperationsMgr struct {
	name    string
	db      *gorm.DB
	cronMgr *cronjob.CronJobManager
	queue   *taskqueue.Queue
}

func NewOperationsMgr(conf RegisterConfig) Manager {
	return &OperationsMgr{
		name:    "operations",
		db:      conf.DB,
		cronMgr: conf.CronMgr,
		queue:   conf.Queue,
	}
}

func (mgr *OperationsMgr) GetName() string { return mgr.name }

func (mgr *OperationsMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *OperationsMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *OperationsMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *OperationsMgr) RegisterAdmin(g *gin.RouterGroup) {
	g.GET("cronjobs", mgr.GetCronjobConfigs)
	g.PUT("cronjobs", mgr.UpdateCronjobConfig)
	g.GET("cronjobs/names", mgr.GetCronjobNames)
	g.GET("cronjobs/records/range", mgr.GetCronjobRecordTimeRange)
	g.POST("cronjobs/records/query", mgr.GetCronjobRecords)
	g.DELETE("cronjobs/records", mgr.DeleteCronjobRecords)
	g.GET("tasks", mgr.ListTasks)
	g.POST("tasks/requeue", mgr.RequeueStuckTasks)
}

type CronjobConfigs struct {
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Schedule string         `json:"schedule"`
	Suspend  bool           `json:"suspend"`
	Configs  map[string]any `json:"configs"`
}

func (mgr *OperationsMgr) GetCronjobConfigs(c *gin.Context) {
	var jobs []*model.CronJobConfig
	if err := mgr.db.Find(&jobs).Error; err != nil {
		klog.Error(err)
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	configs := lo.Map(jobs, func(job *model.CronJobConfig, _ int) CronjobConfigs {
		config := make(map[string]any)
		if err := json.Unmarshal(job.Config, &config); err != nil {
			config = map[string]any{}
		}
		return CronjobConfigs{
			Name:     job.Name,
			Type:     string(job.Type),
			Schedule: job.Spec,
			Suspend:  job.GetSuspend(),
			Configs:  config,
		}
	})
	resputil.Success(c, configs)
}

func (mgr *OperationsMgr) UpdateCronjobConfig(c *gin.Context) {
	var req CronjobConfigs
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	var (
		jobTypePtr *model.CronJobType
		specPtr    *string
		configPtr  *string
	)
	if req.Type != "" {
		jobTypePtr = lo.ToPtr(model.CronJobType(req.Type))
	}
	if req.Schedule != "" {
		specPtr = lo.ToPtr(req.Schedule)
	}
	if len(req.Configs) > 0 {
		configJSON, err := json.Marshal(req.Configs)
		if err != nil {
			resputil.Error(c, err.Error(), resputil.NotSpecified)
			return
		}
		configPtr = lo.ToPtr(string(configJSON))
	}

	if err := mgr.cronMgr.UpdateJobConfig(req.Name, jobTypePtr, specPtr, &req.Suspend, configPtr); err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, "Cron job config updated")
}

func (mgr *OperationsMgr) GetCronjobNames(c *gin.Context) {
	names, err := mgr.cronMgr.GetCronjobNames(c)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, names)
}

func (mgr *OperationsMgr) GetCronjobRecordTimeRange(c *gin.Context) {
	startTime, endTime, err := mgr.cronMgr.GetCronjobRecordTimeRange(c)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, map[string]any{
		"startTime": startTime,
		"endTime":   endTime,
	})
}

type GetCronJobRecordsReq struct {
	Name      []string   `json:"name"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Status    *string    `json:"status"`
}

func (mgr *OperationsMgr) GetCronjobRecords(c *gin.Context) {
	req := &GetCronJobRecordsReq{}
	if err := c.ShouldBindJSON(req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	records, total, err := mgr.cronMgr.GetCronjobRecords(c, req.Name, req.StartTime, req.EndTime, req.Status)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, map[string]any{
		"records": records,
		"total":   total,
	})
}

type DeleteCronJobRecordsReq struct {
	ID        []uint     `json:"id"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

func (mgr *OperationsMgr) DeleteCronjobRecords(c *gin.Context) {
	req := &DeleteCronJobRecordsReq{}
	if err := c.ShouldBindJSON(req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if len(req.ID) == 0 && req.StartTime == nil && req.EndTime == nil {
		resputil.Error(c, "id or startTime or endTime is required", resputil.InvalidRequest)
		return
	}

	deleted, err := mgr.cronMgr.DeleteCronjobRecords(c, req.ID, req.StartTime, req.EndTime)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, map[string]string{
		"deleted": fmt.Sprintf("%d", deleted),
	})
}

const taskListLimit = 200

func (mgr *OperationsMgr) ListTasks(c *gin.Context) {
	var q struct {
		Status *model.TaskStatus `form:"status"`
		Kind   *model.TaskKind   `form:"kind"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	tx := mgr.db.Model(&model.Task{})
	if q.Status != nil {
		tx = tx.Where("status = ?", *q.Status)
	}
	if q.Kind != nil {
		tx = tx.Where("kind = ?", *q.Kind)
	}

	var tasks []model.Task
	if err := tx.Order("updated_at DESC").Limit(taskListLimit).Find(&tasks).Error; err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, tasks)
}

type RequeueStuckReq struct {
	OlderThanMinutes int `json:"olderThanMinutes" binding:"required,min=1"`
}

// RequeueStuckTasks returns running rows abandoned by a dead worker to
// the pending state.
func (mgr *OperationsMgr) RequeueStuckTasks(c *gin.Context) {
	var req RequeueStuckReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	requeued, err := mgr.queue.RequeueStuck(time.Duration(req.OlderThanMinutes) * time.Minute)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, gin.H{"requeued": requeued})
}
