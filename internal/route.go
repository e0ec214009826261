package internal

import (
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mit-lcp/physionet-server/internal/handler"
	"github.com/mit-lcp/physionet-server/internal/middleware"
)

type Backend struct {
	R *gin.Engine
}

// Register builds the gin engine and mounts every handler manager on
// the four permission tiers.
func Register(conf handler.RegisterConfig) *Backend {
	s := new(Backend)
	s.R = gin.Default()

	s.R.GET("/v1/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})

	// Enable CORS for http://localhost:XXXX in debug mode
	if gin.Mode() == gin.DebugMode {
		fe := os.Getenv("PHYSIONET_FE_PORT")
		if fe != "" {
			url := "http://localhost:" + fe
			corsConf := cors.DefaultConfig()
			corsConf.AllowOrigins = []string{url}
			corsConf.AllowHeaders = append(corsConf.AllowHeaders, "Authorization")
			s.R.Use(cors.New(corsConf))
		}
	}

	managers := registerManagers(conf)

	publicRouter := s.R.Group("/v1")

	protectedRouter := s.R.Group("/v1")
	protectedRouter.Use(middleware.AuthProtected())

	editorRouter := s.R.Group("/v1/editor")
	editorRouter.Use(middleware.AuthProtected(), middleware.AuthEditor())

	adminRouter := s.R.Group("/v1/admin")
	adminRouter.Use(middleware.AuthProtected(), middleware.AuthAdmin())

	for _, mgr := range managers {
		mgr.RegisterPublic(publicRouter.Group(mgr.GetName()))
		mgr.RegisterProtected(protectedRouter.Group(mgr.GetName()))
		mgr.RegisterEditor(editorRouter.Group(mgr.GetName()))
		mgr.RegisterAdmin(adminRouter.Group(mgr.GetName()))
	}

	return s
}
