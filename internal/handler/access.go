package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/citation"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewAccessMgr)
}

// AccessMgr serves the published catalog and the access-control
// surface: DUA signatures, data access requests, reviewer delegation
// and anonymous reviewer links.
type AccessMgr struct {
	name     string
	db       *gorm.DB
	access   *access.Service
	siteName string
}

func NewAccessMgr(conf RegisterConfig) Manager {
	return &AccessMgr{
		name:     "access",
		db:       conf.DB,
		access:   conf.Access,
		siteName: conf.SiteName,
	}
}

func (mgr *AccessMgr) GetName() string { return mgr.name }

func (mgr *AccessMgr) RegisterPublic(g *gin.RouterGroup) {
	g.GET("published", mgr.ListPublished)
	g.GET("published/:slug", mgr.GetLatestVersion)
	g.GET("published/:slug/:version", mgr.GetVersion)
	g.POST("anonymous/:token", mgr.CheckAnonymous)
}

func (mgr *AccessMgr) RegisterProtected(g *gin.RouterGroup) {
	g.GET("published/:slug/:version/access", mgr.CheckAccess)
	g.POST("projects/:id/dua", mgr.SignDUA)
	g.POST("projects/:id/requests", mgr.SubmitRequest)
	g.DELETE("requests/:id", mgr.WithdrawRequest)
	g.POST("requests/:id/decide", mgr.DecideRequest)
	g.GET("projects/:id/requests", mgr.ListPendingRequests)
	g.POST("projects/:id/reviewers", mgr.AddReviewer)
	g.DELETE("projects/:id/reviewers/:userID", mgr.RevokeReviewer)
}

func (mgr *AccessMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *AccessMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	PublishedSummary struct {
		ID           uint               `json:"id"`
		Slug         string             `json:"slug"`
		Version      string             `json:"version"`
		Title        string             `json:"title"`
		Abstract     string             `json:"abstract"`
		AccessPolicy model.AccessPolicy `json:"accessPolicy"`
		DOI          *string            `json:"doi"`
		PublishDate  time.Time          `json:"publishDate"`
		Deprecated   bool               `json:"deprecated"`
	}
	PublishedDetail struct {
		PublishedSummary
		Project  *model.PublishedProject   `json:"project"`
		Authors  []model.PublishedAuthor   `json:"authors"`
		Topics   []string                  `json:"topics"`
		Citation map[citation.Style]string `json:"citation"`
	}
	AnonymousReq struct {
		Passphrase string `json:"passphrase" binding:"required"`
	}
	AccessReq struct {
		Title   string `json:"title" binding:"required"`
		Purpose string `json:"purpose" binding:"required"`
	}
	DecideReq struct {
		Accept       bool   `json:"accept"`
		Comments     string `json:"comments"`
		DurationDays *int   `json:"durationDays"`
	}
	ReviewerReq struct {
		UserID uint `json:"userID" binding:"required"`
	}
)

func publishedSummary(p *model.PublishedProject) PublishedSummary {
	return PublishedSummary{
		ID:           p.ID,
		Slug:         p.Slug,
		Version:      p.Version,
		Title:        p.Metadata.Title,
		Abstract:     p.Metadata.Abstract,
		AccessPolicy: p.Metadata.AccessPolicy,
		DOI:          p.DOI,
		PublishDate:  p.PublishDatetime,
		Deprecated:   p.Deprecated,
	}
}

// ListPublished returns the latest version of every published project,
// optionally filtered by topic.
func (mgr *AccessMgr) ListPublished(c *gin.Context) {
	var q struct {
		Topic string `form:"topic"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	tx := mgr.db.Where("is_latest_version")
	if q.Topic != "" {
		tx = tx.
			Joins("JOIN project_topics ON project_topics.published_project_id = published_projects.id").
			Joins("JOIN published_topics ON published_topics.id = project_topics.published_topic_id").
			Where("published_topics.description = ?", q.Topic)
	}

	var projects []model.PublishedProject
	if err := tx.Order("publish_datetime DESC").Find(&projects).Error; err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resp := make([]PublishedSummary, 0, len(projects))
	for i := range projects {
		resp = append(resp, publishedSummary(&projects[i]))
	}
	resputil.Success(c, resp)
}

func (mgr *AccessMgr) GetLatestVersion(c *gin.Context) {
	mgr.getPublished(c, c.Param("slug"), "")
}

func (mgr *AccessMgr) GetVersion(c *gin.Context) {
	mgr.getPublished(c, c.Param("slug"), c.Param("version"))
}

func (mgr *AccessMgr) getPublished(c *gin.Context, slug, version string) {
	tx := mgr.db.Where("slug = ?", slug)
	if version == "" {
		tx = tx.Where("is_latest_version")
	} else {
		tx = tx.Where("version = ?", version)
	}

	var project model.PublishedProject
	err := tx.First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.Error(c, "Project not found", resputil.NotFound)
		return
	}
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}

	var authors []model.PublishedAuthor
	err = mgr.db.Preload("Affiliations").
		Where("published_project_id = ?", project.ID).
		Order("display_order").Find(&authors).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}

	var topics []string
	err = mgr.db.Model(&model.ProjectTopic{}).
		Joins("JOIN published_topics ON published_topics.id = project_topics.published_topic_id").
		Where("project_topics.published_project_id = ?", project.ID).
		Pluck("published_topics.description", &topics).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}

	citAuthors := make([]citation.Author, 0, len(authors))
	for i := range authors {
		citAuthors = append(citAuthors, citation.Author{
			FirstNames: authors[i].FirstNames,
			LastName:   authors[i].LastName,
		})
	}
	var doi string
	if project.DOI != nil && *project.DOI != model.DOIPending {
		doi = *project.DOI
	}

	resputil.Success(c, PublishedDetail{
		PublishedSummary: publishedSummary(&project),
		Project:          &project,
		Authors:          authors,
		Topics:           topics,
		Citation: citation.FormatAll(citation.Project{
			Authors:  citAuthors,
			Title:    project.Metadata.Title,
			Version:  project.Version,
			Year:     project.PublishDatetime.Year(),
			DOI:      doi,
			SiteName: mgr.siteName,
		}),
	})
}

// CheckAnonymous validates a reviewer link passphrase. The response
// carries the project the link points at.
func (mgr *AccessMgr) CheckAnonymous(c *gin.Context) {
	var req AnonymousReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	grant, err := mgr.access.CheckAnonymousPassphrase(c.Param("token"), req.Passphrase)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, gin.H{
		"ownerKind": grant.OwnerKind,
		"ownerID":   grant.OwnerID,
	})
}

// CheckAccess reports whether the caller may read the project files.
// A denial is a normal response, not an error.
func (mgr *AccessMgr) CheckAccess(c *gin.Context) {
	token := util.GetToken(c)
	var project model.PublishedProject
	err := mgr.db.Where("slug = ? AND version = ?", c.Param("slug"), c.Param("version")).
		First(&project).Error
	if err != nil {
		replyServiceError(c, err)
		return
	}
	var user model.User
	if err := mgr.db.First(&user, token.UserID).Error; err != nil {
		replyServiceError(c, err)
		return
	}

	if err := mgr.access.CanAccessFiles(&user, &project); err != nil {
		var denial *access.Denial
		if errors.As(err, &denial) {
			resputil.Success(c, gin.H{"allowed": false, "reason": denial.Reason})
			return
		}
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, gin.H{"allowed": true})
}

func (mgr *AccessMgr) SignDUA(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	if err := mgr.access.SignDUA(token.UserID, projectID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Agreement signed")
}

func (mgr *AccessMgr) SubmitRequest(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req AccessReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	request, err := mgr.access.SubmitRequest(token.UserID, projectID, req.Title, req.Purpose)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, request.ID)
}

func (mgr *AccessMgr) WithdrawRequest(c *gin.Context) {
	requestID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	if err := mgr.access.WithdrawRequest(token.UserID, requestID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Request withdrawn")
}

func (mgr *AccessMgr) DecideRequest(c *gin.Context) {
	requestID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req DecideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	err = mgr.access.DecideRequest(c, token.UserID, requestID, req.Accept, req.Comments, req.DurationDays)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Request decided")
}

func (mgr *AccessMgr) ListPendingRequests(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireReviewer(c, projectID) {
		return
	}
	requests, err := mgr.access.ListPendingRequests(projectID)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, requests)
}

func (mgr *AccessMgr) AddReviewer(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireReviewer(c, projectID) {
		return
	}
	var req ReviewerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.access.AddReviewer(projectID, req.UserID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Reviewer added")
}

func (mgr *AccessMgr) RevokeReviewer(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	userID, err := parseIDParam(c, "userID")
	if err != nil {
		return
	}
	if !mgr.requireReviewer(c, projectID) {
		return
	}
	if err := mgr.access.RevokeReviewer(projectID, userID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Reviewer revoked")
}

func (mgr *AccessMgr) requireReviewer(c *gin.Context, projectID uint) bool {
	token := util.GetToken(c)
	if token.Role == model.RoleAdmin || token.Role == model.RoleEditor {
		return true
	}
	ok, err := mgr.access.IsReviewer(token.UserID, projectID)
	if err != nil {
		replyServiceError(c, err)
		return false
	}
	if !ok {
		resputil.Error(c, "Not a reviewer of this project", resputil.UserNotAllowed)
		return false
	}
	return true
}
