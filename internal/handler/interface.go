package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/cronjob"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/submission"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

type Manager interface {
	GetName() string
	RegisterPublic(group *gin.RouterGroup)
	RegisterProtected(group *gin.RouterGroup)
	RegisterEditor(group *gin.RouterGroup)
	RegisterAdmin(group *gin.RouterGroup)
}

// RegisterConfig carries the shared services every manager constructor
// may pick from.
type RegisterConfig struct {
	DB         *gorm.DB
	Backend    storage.Backend
	Submission *submission.Service
	Access     *access.Service
	Queue      *taskqueue.Queue
	Notifier   notify.Notifier
	CronMgr    *cronjob.CronJobManager
	Flags      config.Flags
	SiteName   string
}

// Registers collects the manager constructors; each handler file
// appends its own in init.
var Registers []func(RegisterConfig) Manager
