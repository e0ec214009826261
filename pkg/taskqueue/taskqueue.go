// Package taskqueue runs typed background jobs recorded in the
// database. Long file operations (post-publish locking, checksums,
// zips) and remote registrar calls run here, decoupled from the
// request that triggered them. Jobs retry with exponential backoff up
// to a bounded attempt count; exhaustion notifies the administrators.
package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/metrics"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// Handler executes one task kind. Handlers must be idempotent; a task
// may be re-run after a crash or a manual re-trigger.
type Handler func(ctx context.Context, task *model.Task) error

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Minute
)

// Queue dispatches due task rows to registered handlers with a fixed
// worker pool.
type Queue struct {
	db       *gorm.DB
	notifier notify.Notifier

	mu       sync.RWMutex
	handlers map[model.TaskKind]Handler

	workers      int
	pollInterval time.Duration
	backoffBase  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(db *gorm.DB, notifier notify.Notifier, workers int, pollInterval time.Duration) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &Queue{
		db:           db,
		notifier:     notifier,
		handlers:     make(map[model.TaskKind]Handler),
		workers:      workers,
		pollInterval: pollInterval,
		backoffBase:  defaultBackoffBase,
		stop:         make(chan struct{}),
	}
}

// Register binds a handler to a task kind. Must happen before Start.
func (q *Queue) Register(kind model.TaskKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue records a new pending task. The payload is marshalled to
// JSON; the caller never waits for execution.
func (q *Queue) Enqueue(kind model.TaskKind, payload any) (*model.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	task := &model.Task{
		Kind:        kind,
		Payload:     data,
		Status:      model.TaskStatusPending,
		MaxAttempts: defaultMaxAttempts,
		NextRunTime: time.Now(),
	}
	if err := q.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// Start launches the worker pool. Workers poll for due tasks until
// Stop is called or the context ends.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			ticker := time.NewTicker(q.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.stop:
					return
				case <-ticker.C:
					q.RunOnce(ctx)
				}
			}
		}()
	}
}

// Stop waits for in-flight tasks to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// RunOnce claims and executes due tasks until none remain. Exposed so
// the cron sweep and tests can drive the queue synchronously.
func (q *Queue) RunOnce(ctx context.Context) {
	for {
		task, ok := q.claim()
		if !ok {
			return
		}
		q.process(ctx, task)
	}
}

// claim atomically marks one due pending task as running. The
// conditional update keeps two workers from picking the same row.
func (q *Queue) claim() (*model.Task, bool) {
	var task model.Task
	err := q.db.Where("status = ? AND next_run_time <= ?", model.TaskStatusPending, time.Now()).
		Order("next_run_time").First(&task).Error
	if err != nil {
		return nil, false
	}
	res := q.db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, model.TaskStatusPending).
		Update("status", model.TaskStatusRunning)
	if res.Error != nil || res.RowsAffected == 0 {
		return nil, false
	}
	task.Status = model.TaskStatusRunning
	return &task, true
}

func (q *Queue) process(ctx context.Context, task *model.Task) {
	q.mu.RLock()
	handler, ok := q.handlers[task.Kind]
	q.mu.RUnlock()
	if !ok {
		klog.Errorf("taskqueue: no handler for kind %s, task %d", task.Kind, task.ID)
		q.db.Model(task).Updates(map[string]any{
			"status":     model.TaskStatusFailed,
			"last_error": "no handler registered",
		})
		return
	}

	err := handler(ctx, task)
	task.Attempts++
	if err == nil {
		q.db.Model(task).Updates(map[string]any{
			"status":     model.TaskStatusSucceeded,
			"attempts":   task.Attempts,
			"last_error": "",
		})
		return
	}

	klog.Errorf("taskqueue: task %d (%s) attempt %d failed: %v", task.ID, task.Kind, task.Attempts, err)
	if task.Attempts >= task.MaxAttempts {
		q.db.Model(task).Updates(map[string]any{
			"status":     model.TaskStatusFailed,
			"attempts":   task.Attempts,
			"last_error": err.Error(),
		})
		subject := fmt.Sprintf("Background task %d (%s) failed permanently", task.ID, task.Kind)
		body := fmt.Sprintf("Attempts: %d\nLast error: %v\nPayload: %s", task.Attempts, err, task.Payload)
		if nerr := q.notifier.NotifyAdmins(ctx, subject, body); nerr != nil {
			klog.Errorf("taskqueue: admin notification failed: %v", nerr)
		}
		return
	}

	// Exponential backoff: base, 2x, 4x...
	metrics.TaskRetriesTotal.Inc()
	delay := q.backoffBase << (task.Attempts - 1)
	q.db.Model(task).Updates(map[string]any{
		"status":        model.TaskStatusPending,
		"attempts":      task.Attempts,
		"last_error":    err.Error(),
		"next_run_time": time.Now().Add(delay),
	})
}

// RequeueStuck returns tasks stuck in running state (after a crash)
// to pending. Called by the periodic sweep.
func (q *Queue) RequeueStuck(olderThan time.Duration) (int64, error) {
	res := q.db.Model(&model.Task{}).
		Where("status = ? AND updated_at < ?", model.TaskStatusRunning, time.Now().Add(-olderThan)).
		Updates(map[string]any{
			"status":        model.TaskStatusPending,
			"next_run_time": time.Now(),
		})
	return res.RowsAffected, res.Error
}
