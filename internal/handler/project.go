package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/citation"
	"github.com/mit-lcp/physionet-server/pkg/submission"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewProjectMgr)
}

// ProjectMgr serves the author-facing side of the submission workflow:
// drafts, metadata, the author list, storage requests and new versions.
type ProjectMgr struct {
	name     string
	db       *gorm.DB
	svc      *submission.Service
	access   *access.Service
	siteName string
}

func NewProjectMgr(conf RegisterConfig) Manager {
	return &ProjectMgr{
		name:     "project",
		db:       conf.DB,
		svc:      conf.Submission,
		access:   conf.Access,
		siteName: conf.SiteName,
	}
}

func (mgr *ProjectMgr) GetName() string { return mgr.name }

func (mgr *ProjectMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *ProjectMgr) RegisterProtected(g *gin.RouterGroup) {
	g.POST("", mgr.CreateProject)
	g.GET("", mgr.ListMyProjects)
	g.GET(":id", mgr.GetProject)
	g.PUT(":id/metadata", mgr.UpdateMetadata)
	g.GET("licenses", mgr.ListLicenses)
	g.GET("duas", mgr.ListDUAs)
	g.POST(":id/submit", mgr.Submit)
	g.POST(":id/resubmit", mgr.Resubmit)
	g.DELETE(":id", mgr.Delete)
	g.GET(":id/integrity", mgr.CheckIntegrity)
	g.GET(":id/citation", mgr.CitationPreview)
	g.GET(":id/storage", mgr.StorageInfo)
	g.POST(":id/storage-request", mgr.RequestStorage)
	g.POST(":id/anonymous-link", mgr.GenerateAnonymousLink)
	g.POST(":id/approve", mgr.Approve)

	g.POST(":id/authors/invite", mgr.InviteAuthor)
	g.POST("invitations/:id/respond", mgr.RespondInvitation)
	g.DELETE(":id/authors/:authorID", mgr.RemoveAuthor)
	g.PUT(":id/authors/order", mgr.ReorderAuthors)
	g.PUT(":id/authors/corresponding", mgr.TransferCorresponding)
	g.PUT(":id/authors/submitting", mgr.TransferSubmitting)
	g.PUT(":id/authors/:authorID/affiliations", mgr.SetAffiliations)

	g.POST("core/:id/new-version", mgr.NewVersion)
}

func (mgr *ProjectMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *ProjectMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	CreateProjectReq struct {
		Metadata model.Metadata `json:"metadata" binding:"required"`
	}
	CommentsReq struct {
		Comments string `json:"comments"`
	}
	ProjectSummary struct {
		ID          uint                   `json:"id"`
		Slug        string                 `json:"slug"`
		Title       string                 `json:"title"`
		Status      model.SubmissionStatus `json:"status"`
		StatusLabel string                 `json:"statusLabel"`
		Version     string                 `json:"version"`
	}
	ProjectDetail struct {
		ProjectSummary
		Project *model.ActiveProject `json:"project"`
		Authors []model.Author       `json:"authors"`
	}
	InviteReq struct {
		Email string `json:"email" binding:"required,email"`
	}
	RespondReq struct {
		Accept bool `json:"accept"`
	}
	ReorderReq struct {
		OrderedIDs []uint `json:"orderedIDs" binding:"required"`
	}
	TransferCorrespondingReq struct {
		AuthorID uint    `json:"authorID" binding:"required"`
		Email    *string `json:"email"`
	}
	TransferSubmittingReq struct {
		AuthorID uint `json:"authorID" binding:"required"`
	}
	AffiliationsReq struct {
		Names []string `json:"names" binding:"required"`
	}
	StorageRequestReq struct {
		Bytes int64 `json:"bytes" binding:"required"`
	}
	NewVersionReq struct {
		Version string `json:"version" binding:"required"`
	}
	AnonymousLinkResp struct {
		URLToken   string `json:"urlToken"`
		Passphrase string `json:"passphrase"`
	}
)

func summarize(p *model.ActiveProject) ProjectSummary {
	return ProjectSummary{
		ID:          p.ID,
		Slug:        p.Slug,
		Title:       p.Metadata.Title,
		Status:      p.SubmissionStatus,
		StatusLabel: model.SubmissionStatusLabel(p.SubmissionStatus),
		Version:     p.Metadata.Version,
	}
}

func (mgr *ProjectMgr) requireAuthor(c *gin.Context, projectID uint) *model.Author {
	return requireProjectAuthor(c, mgr.db, projectID)
}

func (mgr *ProjectMgr) CreateProject(c *gin.Context) {
	token := util.GetToken(c)
	var req CreateProjectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	var user model.User
	if err := mgr.db.First(&user, token.UserID).Error; err != nil {
		resputil.Error(c, "User not found", resputil.NotFound)
		return
	}
	project, err := mgr.svc.CreateProject(c, &user, req.Metadata)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, summarize(project))
}

func (mgr *ProjectMgr) ListMyProjects(c *gin.Context) {
	token := util.GetToken(c)
	var projects []model.ActiveProject
	err := mgr.db.
		Joins("JOIN authors ON authors.owner_kind = ? AND authors.owner_id = active_projects.id", model.OwnerActive).
		Where("authors.user_id = ?", token.UserID).
		Order("active_projects.id").
		Find(&projects).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resp := make([]ProjectSummary, 0, len(projects))
	for i := range projects {
		resp = append(resp, summarize(&projects[i]))
	}
	resputil.Success(c, resp)
}

func (mgr *ProjectMgr) GetProject(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return
	}
	var authors []model.Author
	err = mgr.db.Preload("Affiliations").Preload("User").
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, projectID).
		Order("display_order").Find(&authors).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, ProjectDetail{
		ProjectSummary: summarize(&project),
		Project:        &project,
		Authors:        authors,
	})
}

func (mgr *ProjectMgr) UpdateMetadata(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var meta model.Metadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.UpdateMetadata(projectID, meta); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Metadata updated")
}

func (mgr *ProjectMgr) ListLicenses(c *gin.Context) {
	var q struct {
		Policy       model.AccessPolicy `form:"policy" binding:"required"`
		ResourceType model.ResourceType `form:"resourceType" binding:"required"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	licenses, err := mgr.svc.SelectableLicenses(q.Policy, q.ResourceType)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, licenses)
}

func (mgr *ProjectMgr) ListDUAs(c *gin.Context) {
	var q struct {
		Policy model.AccessPolicy `form:"policy" binding:"required"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	duas, err := mgr.svc.SelectableDUAs(q.Policy)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, duas)
}

func (mgr *ProjectMgr) Submit(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	author := mgr.requireAuthor(c, projectID)
	if author == nil {
		return
	}
	if !author.IsSubmitting {
		resputil.Error(c, "Only the submitting author can submit", resputil.UserNotAllowed)
		return
	}
	var req CommentsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.Submit(c, projectID, req.Comments); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Submitted")
}

func (mgr *ProjectMgr) Resubmit(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	author := mgr.requireAuthor(c, projectID)
	if author == nil {
		return
	}
	if !author.IsSubmitting {
		resputil.Error(c, "Only the submitting author can resubmit", resputil.UserNotAllowed)
		return
	}
	var req CommentsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.Resubmit(c, projectID, req.Comments); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Resubmitted")
}

func (mgr *ProjectMgr) Delete(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	author := mgr.requireAuthor(c, projectID)
	if author == nil {
		return
	}
	if !author.IsSubmitting {
		resputil.Error(c, "Only the submitting author can delete the project", resputil.UserNotAllowed)
		return
	}
	if _, err := mgr.svc.Archive(c, projectID, model.ArchiveVoluntary); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Project deleted")
}

func (mgr *ProjectMgr) CheckIntegrity(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return
	}
	problems, err := mgr.svc.CheckIntegrity(&project)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, problems)
}

func (mgr *ProjectMgr) CitationPreview(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return
	}
	var authors []model.Author
	err = mgr.db.Preload("User").
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, projectID).
		Order("display_order").Find(&authors).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	citAuthors := make([]citation.Author, 0, len(authors))
	for i := range authors {
		citAuthors = append(citAuthors, citation.Author{
			FirstNames: authors[i].User.FirstNames,
			LastName:   authors[i].User.LastName,
		})
	}
	resputil.Success(c, citation.FormatAll(citation.Project{
		Authors:  citAuthors,
		Title:    project.Metadata.Title,
		Version:  project.Metadata.Version,
		Year:     project.SubmissionInfo.CreationDatetime.Year(),
		SiteName: mgr.siteName,
	}))
}

func (mgr *ProjectMgr) StorageInfo(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	info, err := mgr.svc.StorageInfo(projectID)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, info)
}

func (mgr *ProjectMgr) RequestStorage(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var req StorageRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	request, err := mgr.svc.RequestStorage(projectID, token.UserID, req.Bytes)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, request.ID)
}

// GenerateAnonymousLink issues a fresh reviewer link for the project.
// The previous link, if any, stops working.
func (mgr *ProjectMgr) GenerateAnonymousLink(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	author := mgr.requireAuthor(c, projectID)
	if author == nil {
		return
	}
	if !author.IsSubmitting {
		resputil.Error(c, "Only the submitting author can manage reviewer links", resputil.UserNotAllowed)
		return
	}
	urlToken, passphrase, err := mgr.access.GenerateAnonymousAccess(model.Owner{
		OwnerKind: model.OwnerActive,
		OwnerID:   projectID,
	})
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, AnonymousLinkResp{URLToken: urlToken, Passphrase: passphrase})
}

func (mgr *ProjectMgr) Approve(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	author := mgr.requireAuthor(c, projectID)
	if author == nil {
		return
	}
	all, err := mgr.svc.ApproveAuthor(c, projectID, author.ID)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, gin.H{"allApproved": all})
}

func (mgr *ProjectMgr) InviteAuthor(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	if mgr.requireAuthor(c, projectID) == nil {
		return
	}
	var req InviteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	invitation, err := mgr.svc.InviteAuthor(c, projectID, token.UserID, req.Email)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, invitation.ID)
}

func (mgr *ProjectMgr) RespondInvitation(c *gin.Context) {
	invitationID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req RespondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.RespondInvitation(c, invitationID, token.UserID, req.Accept); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Invitation answered")
}

func (mgr *ProjectMgr) RemoveAuthor(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	authorID, err := parseIDParam(c, "authorID")
	if err != nil {
		return
	}
	caller := mgr.requireAuthor(c, projectID)
	if caller == nil {
		return
	}
	if !caller.IsSubmitting && caller.ID != authorID {
		resputil.Error(c, "Only the submitting author can remove others", resputil.UserNotAllowed)
		return
	}
	if err := mgr.svc.RemoveAuthor(projectID, authorID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Author removed")
}

func (mgr *ProjectMgr) ReorderAuthors(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	caller := mgr.requireAuthor(c, projectID)
	if caller == nil {
		return
	}
	if !caller.IsSubmitting {
		resputil.Error(c, "Only the submitting author can reorder authors", resputil.UserNotAllowed)
		return
	}
	var req ReorderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.ReorderAuthors(projectID, req.OrderedIDs); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Authors reordered")
}

func (mgr *ProjectMgr) TransferCorresponding(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	caller := mgr.requireAuthor(c, projectID)
	if caller == nil {
		return
	}
	if !caller.IsCorresponding && !caller.IsSubmitting {
		resputil.Error(c, "Only the corresponding or submitting author can transfer the role", resputil.UserNotAllowed)
		return
	}
	var req TransferCorrespondingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.TransferCorresponding(projectID, req.AuthorID, req.Email); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Corresponding author transferred")
}

func (mgr *ProjectMgr) TransferSubmitting(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	caller := mgr.requireAuthor(c, projectID)
	if caller == nil {
		return
	}
	if !caller.IsSubmitting {
		resputil.Error(c, "Only the submitting author can hand over the role", resputil.UserNotAllowed)
		return
	}
	var req TransferSubmittingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.TransferSubmitting(projectID, req.AuthorID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Submitting author transferred")
}

func (mgr *ProjectMgr) SetAffiliations(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	authorID, err := parseIDParam(c, "authorID")
	if err != nil {
		return
	}
	caller := mgr.requireAuthor(c, projectID)
	if caller == nil {
		return
	}
	if caller.ID != authorID && !caller.IsSubmitting {
		resputil.Error(c, "Authors edit their own affiliations", resputil.UserNotAllowed)
		return
	}
	var req AffiliationsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.SetAffiliations(projectID, authorID, req.Names); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Affiliations updated")
}

func (mgr *ProjectMgr) NewVersion(c *gin.Context) {
	coreID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req NewVersionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	// The caller must be an author of the latest published version.
	var count int64
	err = mgr.db.Model(&model.PublishedAuthor{}).
		Joins("JOIN published_projects ON published_projects.id = published_authors.published_project_id").
		Where("published_projects.core_project_id = ? AND published_projects.is_latest_version", coreID).
		Where("published_authors.user_id = ?", token.UserID).
		Count(&count).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	if count == 0 {
		resputil.Error(c, "Not an author of the published project", resputil.UserNotAllowed)
		return
	}

	project, err := mgr.svc.NewVersion(c, coreID, req.Version)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, summarize(project))
}
