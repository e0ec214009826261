package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/query"
	"github.com/mit-lcp/physionet-server/internal"
	"github.com/mit-lcp/physionet-server/internal/handler"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/cronjob"
	"github.com/mit-lcp/physionet-server/pkg/doi"
	"github.com/mit-lcp/physionet-server/pkg/metrics"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/submission"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

const (
	taskWorkers      = 2
	taskPollInterval = 30 * time.Second
)

func main() {
	// set global timezone
	time.Local = time.UTC

	backendConfig := config.GetConfig()
	// variable changes in local development
	if gin.Mode() == gin.DebugMode {
		be := os.Getenv("PHYSIONET_BE_PORT")
		if be != "" {
			backendConfig.ServerAddr = ":" + be
		}
		ms := os.Getenv("PHYSIONET_MS_PORT")
		if ms != "" {
			backendConfig.MetricsAddr = ":" + ms
		}
	}

	// 1. init db and run migrations
	db := query.GetDB()
	if err := query.Migrate(db); err != nil {
		klog.Error(err, "unable to migrate database")
		os.Exit(1)
	}

	// 2. init the storage backend
	backend, err := storage.New(backendConfig)
	if err != nil {
		klog.Error(err, "unable to init storage backend")
		os.Exit(1)
	}

	// 3. init notification and DOI clients
	var notifier notify.Notifier
	if backendConfig.SMTP.Host != "" {
		notifier = notify.NewSMTPNotifier(backendConfig)
	} else {
		notifier = &notify.LogNotifier{}
	}

	var registrar *doi.Registrar
	if backendConfig.DataCite.APIURL != "" {
		registrar = doi.NewRegistrar(db, doi.NewDataCiteClient(backendConfig))
	}

	// 4. init the workflow services
	queue := taskqueue.New(db, notifier, taskWorkers, taskPollInterval)
	svc := submission.NewService(db, backend, notifier, queue,
		registrar, backendConfig.Flags, backendConfig.SiteName)
	svc.RegisterTaskHandlers(backendConfig.Host)
	accessSvc := access.NewService(db, notifier, backendConfig.Flags.AnonymousAccessTTLDays)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	queue.Start(ctx)

	// 5. load the scheduled jobs
	cronMgr := cronjob.NewCronJobManager(db, svc, queue, notifier)
	cronMgr.SyncCronJob()
	defer cronMgr.StopCron()

	// 6. metrics endpoint
	if backendConfig.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
			if serveErr := http.ListenAndServe(backendConfig.MetricsAddr, mux); serveErr != nil {
				klog.Error(serveErr, "problem running metrics server")
			}
		}()
	}

	// 7. start the API server
	klog.Info("starting server")
	server := internal.Register(handler.RegisterConfig{
		DB:         db,
		Backend:    backend,
		Submission: svc,
		Access:     accessSvc,
		Queue:      queue,
		Notifier:   notifier,
		CronMgr:    cronMgr,
		Flags:      backendConfig.Flags,
		SiteName:   backendConfig.SiteName,
	})
	if err := server.R.Run(backendConfig.ServerAddr); err != nil {
		klog.Error(err, "problem running server")
		os.Exit(1)
	}
}
