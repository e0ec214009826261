package handler

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/submission"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewConsoleMgr)
}

// ConsoleMgr serves the editorial side of the workflow: submission
// triage, decisions, copyedit, publication and the post-publication
// maintenance operations.
type ConsoleMgr struct {
	name string
	db   *gorm.DB
	svc  *submission.Service
}

func NewConsoleMgr(conf RegisterConfig) Manager {
	return &ConsoleMgr{
		name: "console",
		db:   conf.DB,
		svc:  conf.Submission,
	}
}

func (mgr *ConsoleMgr) GetName() string { return mgr.name }

func (mgr *ConsoleMgr) RegisterPublic(_ *gin.RouterGroup) {}

func (mgr *ConsoleMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *ConsoleMgr) RegisterEditor(g *gin.RouterGroup) {
	g.GET("submissions", mgr.ListSubmissions)
	g.POST("projects/:id/assign", mgr.AssignEditor)
	g.POST("projects/:id/reassign", mgr.ReassignEditor)
	g.POST("projects/:id/decision", mgr.Decision)
	g.POST("projects/:id/copyedit", mgr.CompleteCopyedit)
	g.POST("projects/:id/reopen-copyedit", mgr.ReopenCopyedit)
	g.POST("projects/:id/publish", mgr.Publish)

	g.GET("projects/:id/notes", mgr.ListNotes)
	g.POST("projects/:id/notes", mgr.AddNote)
	g.PUT("notes/:id", mgr.UpdateNote)
	g.DELETE("notes/:id", mgr.DeleteNote)

	g.GET("storage-requests", mgr.ListStorageRequests)
	g.POST("storage-requests/:id/respond", mgr.RespondStorage)

	g.POST("published/:id/deprecate", mgr.DeprecateFiles)
	g.PUT("published/:id/topics", mgr.SetTopics)
}

func (mgr *ConsoleMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	AssignReq struct {
		EditorID uint `json:"editorID" binding:"required"`
	}
	DecisionReq struct {
		Decision       model.EditDecision `json:"decision"`
		EditorComments string             `json:"editorComments"`

		SoundlyProduced     *bool `json:"soundlyProduced"`
		WellDescribed       *bool `json:"wellDescribed"`
		OpenFormat          *bool `json:"openFormat"`
		DataMachineReadable *bool `json:"dataMachineReadable"`
		Reusable            *bool `json:"reusable"`
		NoPHI               *bool `json:"noPHI"`
		PNSuitable          *bool `json:"pnSuitable"`
		EthicsIncluded      *bool `json:"ethicsIncluded"`
	}
	CopyeditReq struct {
		MadeChanges bool   `json:"madeChanges"`
		Changelog   string `json:"changelog"`
	}
	PublishReq struct {
		Slug        string `json:"slug"`
		Title       string `json:"title"`
		MakeZip     *bool  `json:"makeZip"`
		EmbargoDays int    `json:"embargoDays"`
	}
	NoteReq struct {
		Content string `json:"content" binding:"required"`
	}
	StorageRespondReq struct {
		Grant bool   `json:"grant"`
		Text  string `json:"text"`
	}
	DeprecateReq struct {
		DeleteFiles bool `json:"deleteFiles"`
	}
	TopicsReq struct {
		Topics []string `json:"topics" binding:"required"`
	}
)

// ListSubmissions returns active projects under submission, optionally
// narrowed to a status code or to the caller's assigned projects.
func (mgr *ConsoleMgr) ListSubmissions(c *gin.Context) {
	var q struct {
		Status *model.SubmissionStatus `form:"status"`
		Mine   bool                    `form:"mine"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	tx := mgr.db.Where("submission_status > ?", model.StatusDraft)
	if q.Status != nil {
		tx = mgr.db.Where("submission_status = ?", *q.Status)
	}
	if q.Mine {
		token := util.GetToken(c)
		tx = tx.Where("editor_id = ?", token.UserID)
	}

	var projects []model.ActiveProject
	if err := tx.Order("submission_datetime").Find(&projects).Error; err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resp := make([]ProjectSummary, 0, len(projects))
	for i := range projects {
		resp = append(resp, summarize(&projects[i]))
	}
	resputil.Success(c, resp)
}

func (mgr *ConsoleMgr) AssignEditor(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req AssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.AssignEditor(c, projectID, req.EditorID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Editor assigned")
}

func (mgr *ConsoleMgr) ReassignEditor(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req AssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.ReassignEditor(c, projectID, req.EditorID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Editor reassigned")
}

func (mgr *ConsoleMgr) Decision(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireAssignedEditor(c, projectID) {
		return
	}
	var req DecisionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	decision := submission.Decision{
		Decision:            req.Decision,
		EditorComments:      req.EditorComments,
		AutoDOI:             true,
		SoundlyProduced:     req.SoundlyProduced,
		WellDescribed:       req.WellDescribed,
		OpenFormat:          req.OpenFormat,
		DataMachineReadable: req.DataMachineReadable,
		Reusable:            req.Reusable,
		NoPHI:               req.NoPHI,
		PNSuitable:          req.PNSuitable,
		EthicsIncluded:      req.EthicsIncluded,
	}
	if err := mgr.svc.EditorDecision(c, projectID, decision); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Decision recorded")
}

func (mgr *ConsoleMgr) CompleteCopyedit(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireAssignedEditor(c, projectID) {
		return
	}
	var req CopyeditReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.CompleteCopyedit(c, projectID, req.MadeChanges, req.Changelog); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Copyedit complete")
}

func (mgr *ConsoleMgr) ReopenCopyedit(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireAssignedEditor(c, projectID) {
		return
	}
	if err := mgr.svc.ReopenCopyedit(c, projectID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Copyedit reopened")
}

func (mgr *ConsoleMgr) Publish(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	if !mgr.requireAssignedEditor(c, projectID) {
		return
	}
	var req PublishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	published, err := mgr.svc.Publish(c, projectID, submission.PublishOptions{
		Slug:        req.Slug,
		Title:       req.Title,
		MakeZip:     req.MakeZip,
		EmbargoDays: req.EmbargoDays,
	})
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, gin.H{
		"id":      published.ID,
		"slug":    published.Slug,
		"version": published.Version,
	})
}

func (mgr *ConsoleMgr) ListNotes(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	notes, err := mgr.svc.ListNotes(projectID)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, notes)
}

func (mgr *ConsoleMgr) AddNote(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req NoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	note, err := mgr.svc.AddNote(projectID, token.UserID, req.Content)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, note.ID)
}

func (mgr *ConsoleMgr) UpdateNote(c *gin.Context) {
	noteID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req NoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.UpdateNote(noteID, token.UserID, req.Content); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Note updated")
}

func (mgr *ConsoleMgr) DeleteNote(c *gin.Context) {
	noteID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	if err := mgr.svc.DeleteNote(noteID, token.UserID); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Note deleted")
}

func (mgr *ConsoleMgr) ListStorageRequests(c *gin.Context) {
	var requests []model.StorageRequest
	err := mgr.db.Where("response IS NULL").Order("id").Find(&requests).Error
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, requests)
}

func (mgr *ConsoleMgr) RespondStorage(c *gin.Context) {
	requestID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	token := util.GetToken(c)
	var req StorageRespondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.RespondStorage(c, requestID, token.UserID, req.Grant, req.Text); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Storage request answered")
}

func (mgr *ConsoleMgr) DeprecateFiles(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req DeprecateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.DeprecateFiles(projectID, req.DeleteFiles); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Project deprecated")
}

func (mgr *ConsoleMgr) SetTopics(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	var req TopicsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	if err := mgr.svc.SetPublishedTopics(projectID, req.Topics); err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, "Topics updated")
}

// requireAssignedEditor rejects decision-stage calls from an editor the
// project is not assigned to. Admins pass regardless.
func (mgr *ConsoleMgr) requireAssignedEditor(c *gin.Context, projectID uint) bool {
	token := util.GetToken(c)
	if token.Role == model.RoleAdmin {
		return true
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return false
	}
	if project.SubmissionInfo.EditorID == nil || *project.SubmissionInfo.EditorID != token.UserID {
		resputil.Error(c, "Project is assigned to another editor", resputil.UserNotAllowed)
		return false
	}
	return true
}
