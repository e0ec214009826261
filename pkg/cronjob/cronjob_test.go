package cronjob

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/submission"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

type managerEnv struct {
	cm       *CronJobManager
	db       *gorm.DB
	svc      *submission.Service
	queue    *taskqueue.Queue
	notifier *notify.LogNotifier
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.CoreProject{},
		&model.ActiveProject{},
		&model.ArchivedProject{},
		&model.IntegrityError{},
		&model.Author{},
		&model.Affiliation{},
		&model.Reference{},
		&model.Publication{},
		&model.Topic{},
		&model.ProjectLanguage{},
		&model.ParentProject{},
		&model.RequiredTraining{},
		&model.UploadedDocument{},
		&model.EditLog{},
		&model.CopyeditLog{},
		&model.AnonymousAccess{},
		&model.Task{},
		&model.CronJobConfig{},
		&model.CronJobRecord{},
	))

	notifier := &notify.LogNotifier{}
	queue := taskqueue.New(db, notifier, 1, time.Millisecond)
	backend := storage.NewLocalBackend(t.TempDir())
	svc := submission.NewService(db, backend, notifier, queue, nil, config.DefaultFlags(), "PhysioNet")
	return &managerEnv{
		cm:       NewCronJobManager(db, svc, queue, notifier),
		db:       db,
		svc:      svc,
		queue:    queue,
		notifier: notifier,
	}
}

func (e *managerEnv) newDraft(t *testing.T, username string, createdAt time.Time) *model.ActiveProject {
	t.Helper()
	user := &model.User{
		Username:   username,
		Email:      username + "@example.org",
		FirstNames: "Ada",
		LastName:   "Lovelace",
		IsActive:   true,
	}
	require.NoError(t, e.db.Create(user).Error)
	project, err := e.svc.CreateProject(context.Background(), user, model.Metadata{
		ResourceType: model.ResourceDatabase,
		Title:        "Waveforms of " + username,
	})
	require.NoError(t, err)
	require.NoError(t, e.db.Model(project).
		UpdateColumn("creation_datetime", createdAt).Error)
	return project
}

func TestPrepareUpdateConfig(t *testing.T) {
	cm := &CronJobManager{}
	suspend := false
	cur := &model.CronJobConfig{
		Name:    "sweep",
		Type:    model.CronJobTypeTaskSweep,
		Spec:    "@every 5m",
		Suspend: &suspend,
		Config:  datatypes.JSON(`{"olderThanMinutes":30}`),
	}

	newSpec := "@every 10m"
	newConfig := `{"olderThanMinutes":60}`
	newSuspend := true
	update := cm.prepareUpdateConfig(cur, nil, &newSpec, &newSuspend, &newConfig)
	assert.Equal(t, model.CronJobTypeTaskSweep, update.Type)
	assert.Equal(t, "@every 10m", update.Spec)
	assert.True(t, update.GetSuspend())
	assert.JSONEq(t, newConfig, string(update.Config))
	assert.True(t, cm.jobNeedsUpdate(cur, update))

	empty := ""
	unchanged := cm.prepareUpdateConfig(cur, nil, &empty, nil, &empty)
	assert.Equal(t, cur.Spec, unchanged.Spec)
	assert.Equal(t, string(cur.Config), string(unchanged.Config))
	assert.False(t, cm.jobNeedsUpdate(cur, unchanged))
}

func TestAddAndSyncCronJob(t *testing.T) {
	env := newManagerEnv(t)
	defer env.cm.StopCron()

	entryID, err := env.cm.AddCronJob(
		"task-sweep",
		"@every 1h",
		model.CronJobTypeTaskSweep,
		datatypes.JSON(`{"olderThanMinutes":30}`),
	)
	require.NoError(t, err)

	var cfg model.CronJobConfig
	require.NoError(t, env.db.Where("name = ?", "task-sweep").First(&cfg).Error)
	assert.Equal(t, model.CronJobTypeTaskSweep, cfg.Type)
	assert.Equal(t, int(entryID), cfg.EntryID)
	assert.False(t, cfg.GetSuspend())

	_, err = env.cm.AddCronJob("broken", "not a spec", model.CronJobTypeTaskSweep, nil)
	assert.Error(t, err)
}

func TestSubmissionTimeoutJob(t *testing.T) {
	env := newManagerEnv(t)

	stale := env.newDraft(t, "alice", time.Now().AddDate(0, 0, -200))
	fresh := env.newDraft(t, "bob", time.Now().AddDate(0, 0, -10))

	result, err := env.cm.runSubmissionTimeout(datatypes.JSON(`{"timeoutDays":180}`))
	require.NoError(t, err)
	archived := result.(map[string]any)["archived"].([]string)
	assert.Equal(t, []string{stale.Slug}, archived)

	var gone int64
	require.NoError(t, env.db.Model(&model.ActiveProject{}).
		Where("id = ?", stale.ID).Count(&gone).Error)
	assert.Zero(t, gone)

	var row model.ArchivedProject
	require.NoError(t, env.db.Where("slug = ?", stale.Slug).First(&row).Error)
	assert.Equal(t, model.ArchiveTimeout, row.ArchiveReason)

	var kept model.ActiveProject
	require.NoError(t, env.db.First(&kept, fresh.ID).Error)
	assert.Equal(t, model.StatusDraft, kept.SubmissionStatus)
}

func TestDeadlineReminderJob(t *testing.T) {
	env := newManagerEnv(t)

	near := env.newDraft(t, "carol", time.Now().AddDate(0, 0, -172))
	env.newDraft(t, "dan", time.Now().AddDate(0, 0, -30))

	result, err := env.cm.runDeadlineReminder(datatypes.JSON(`{"timeoutDays":180,"reminderDays":14}`))
	require.NoError(t, err)
	reminded := result.(map[string]any)["reminded"].([]string)
	assert.Equal(t, []string{near.Slug}, reminded)

	var event *notify.Event
	for i := range env.notifier.Events {
		if env.notifier.Events[i].Kind == notify.EventDeadlineReminder {
			event = &env.notifier.Events[i]
		}
	}
	require.NotNil(t, event)
	assert.Equal(t, near.Slug, event.ProjectSlug)
	assert.Equal(t, []string{"carol@example.org"}, event.Recipients)
}

func TestTaskSweepJob(t *testing.T) {
	env := newManagerEnv(t)

	handled := 0
	env.queue.Register(model.TaskKindDOIUpdate, func(_ context.Context, _ *model.Task) error {
		handled++
		return nil
	})

	task, err := env.queue.Enqueue(model.TaskKindDOIUpdate, map[string]uint{"publishedProjectID": 1})
	require.NoError(t, err)
	require.NoError(t, env.db.Model(task).UpdateColumns(map[string]any{
		"status":     model.TaskStatusRunning,
		"updated_at": time.Now().Add(-2 * time.Hour),
	}).Error)

	result, err := env.cm.runTaskSweep(datatypes.JSON(`{"olderThanMinutes":30}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.(map[string]any)["requeued"])
	assert.Equal(t, 1, handled)

	var done model.Task
	require.NoError(t, env.db.First(&done, task.ID).Error)
	assert.Equal(t, model.TaskStatusSucceeded, done.Status)
}

func TestWrapRecordedWritesRecords(t *testing.T) {
	env := newManagerEnv(t)

	env.cm.wrapRecorded("ok-job", func() (any, error) {
		return map[string]int{"count": 3}, nil
	})()
	env.cm.wrapRecorded("bad-job", func() (any, error) {
		return nil, assert.AnError
	})()

	var ok model.CronJobRecord
	require.NoError(t, env.db.Where("name = ?", "ok-job").First(&ok).Error)
	assert.Equal(t, model.CronJobRecordStatusSuccess, ok.Status)
	assert.JSONEq(t, `{"count":3}`, string(ok.JobData))

	var bad model.CronJobRecord
	require.NoError(t, env.db.Where("name = ?", "bad-job").First(&bad).Error)
	assert.Equal(t, model.CronJobRecordStatusFailed, bad.Status)
	assert.Contains(t, bad.Message, assert.AnError.Error())

	records, total, err := env.cm.GetCronjobRecords(context.Background(), []string{"ok-job"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)

	deleted, err := env.cm.DeleteCronjobRecords(context.Background(), []uint{records[0].ID}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
