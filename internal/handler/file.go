package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/quota"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/submission"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewFileMgr)
}

// FileMgr serves the file areas: authors manage the active project
// tree, everyone else downloads published files subject to the access
// policy.
type FileMgr struct {
	name    string
	db      *gorm.DB
	backend storage.Backend
	access  *access.Service
	flags   config.Flags
}

func NewFileMgr(conf RegisterConfig) Manager {
	return &FileMgr{
		name:    "files",
		db:      conf.DB,
		backend: conf.Backend,
		access:  conf.Access,
		flags:   conf.Flags,
	}
}

func (mgr *FileMgr) GetName() string { return mgr.name }

func (mgr *FileMgr) RegisterPublic(g *gin.RouterGroup) {
	g.GET("published/:slug/:version/files", mgr.ListPublishedFiles)
	g.GET("published/:slug/:version/download", mgr.DownloadPublishedFile)
}

func (mgr *FileMgr) RegisterProtected(g *gin.RouterGroup) {
	g.GET("projects/:id/files", mgr.ListProjectFiles)
	g.POST("projects/:id/files", mgr.UploadProjectFile)
	g.POST("projects/:id/folders", mgr.CreateProjectFolder)
	g.DELETE("projects/:id/files", mgr.DeleteProjectEntry)
	g.PUT("projects/:id/files/move", mgr.MoveProjectEntry)
	g.GET("projects/:id/files/download", mgr.DownloadProjectFile)
	g.GET("projects/:id/quota", mgr.GetProjectQuota)
}

func (mgr *FileMgr) RegisterEditor(_ *gin.RouterGroup) {}

func (mgr *FileMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	PathQuery struct {
		Path string `form:"path"`
	}
	FolderReq struct {
		Path string `json:"path" binding:"required"`
	}
	DeleteEntryQuery struct {
		Path string `form:"path" binding:"required"`
		Dir  bool   `form:"dir"`
	}
	MoveReq struct {
		Source      string `json:"source" binding:"required"`
		Destination string `json:"destination" binding:"required"`
	}
	FileEntry struct {
		Name         string `json:"name"`
		Size         int64  `json:"size"`
		IsDir        bool   `json:"isDir"`
		LastModified string `json:"lastModified"`
	}
	QuotaResp struct {
		BytesUsed  int64 `json:"bytesUsed"`
		BytesHard  int64 `json:"bytesHard"`
		InodesUsed int64 `json:"inodesUsed"`
		InodesHard int64 `json:"inodesHard"`
	}
)

// cleanRelPath normalizes a client-supplied path and rejects anything
// that would escape the project root.
func cleanRelPath(raw string) (string, bool) {
	if strings.Contains(raw, "\\") {
		return "", false
	}
	cleaned := path.Clean("/" + raw)
	if strings.HasPrefix(cleaned, "/..") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), true
}

func fileEntries(infos []storage.FileInfo) []FileEntry {
	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, FileEntry{
			Name:         info.Name,
			Size:         info.Size,
			IsDir:        info.IsDir,
			LastModified: info.LastModified.Format("2006-01-02 15:04:05"),
		})
	}
	return entries
}

// requireEditableProject loads the active project after the author
// gate and rejects file changes outside the editable states.
func (mgr *FileMgr) requireEditableProject(c *gin.Context, projectID uint) *model.ActiveProject {
	if requireProjectAuthor(c, mgr.db, projectID) == nil {
		return nil
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return nil
	}
	if !project.SubmissionStatus.AuthorEditable() {
		resputil.Error(c, "Files are frozen in the current submission state", resputil.InvalidRequest)
		return nil
	}
	return &project
}

func (mgr *FileMgr) loadProjectForRead(c *gin.Context, projectID uint) *model.ActiveProject {
	if requireProjectAuthor(c, mgr.db, projectID) == nil {
		return nil
	}
	var project model.ActiveProject
	if err := mgr.db.First(&project, projectID).Error; err != nil {
		replyServiceError(c, err)
		return nil
	}
	return &project
}

func (mgr *FileMgr) ListProjectFiles(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.loadProjectForRead(c, projectID)
	if project == nil {
		return
	}
	var q PathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(q.Path)
	if !ok {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	infos, err := mgr.backend.ListDir(path.Join(submission.ActiveFileRoot(project), rel))
	if err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, fileEntries(infos))
}

func (mgr *FileMgr) UploadProjectFile(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.requireEditableProject(c, projectID)
	if project == nil {
		return
	}

	var form struct {
		Path string                `form:"path"`
		File *multipart.FileHeader `form:"file" binding:"required"`
	}
	if err := c.ShouldBind(&form); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(path.Join(form.Path, form.File.Filename))
	if !ok || rel == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}

	scan, err := mgr.projectQuota(project)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	if err := scan.CheckCreateFile(rel, form.File.Size); err != nil {
		replyServiceError(c, err)
		return
	}

	src, err := form.File.Open()
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	defer src.Close()

	dst := path.Join(submission.ActiveFileRoot(project), rel)
	if err := mgr.backend.FPut(dst, src, form.File.Size); err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, gin.H{"path": rel, "size": form.File.Size})
}

func (mgr *FileMgr) CreateProjectFolder(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.requireEditableProject(c, projectID)
	if project == nil {
		return
	}
	var req FolderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(req.Path)
	if !ok || rel == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	scan, err := mgr.projectQuota(project)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	if err := scan.CheckCreateDirectory(rel); err != nil {
		replyServiceError(c, err)
		return
	}
	if err := mgr.backend.MkDir(path.Join(submission.ActiveFileRoot(project), rel)); err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, "Folder created")
}

func (mgr *FileMgr) DeleteProjectEntry(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.requireEditableProject(c, projectID)
	if project == nil {
		return
	}
	var q DeleteEntryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(q.Path)
	if !ok || rel == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	full := path.Join(submission.ActiveFileRoot(project), rel)
	if q.Dir {
		err = mgr.backend.RmDir(full)
	} else {
		err = mgr.backend.Rm(full)
	}
	if err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, "Deleted")
}

func (mgr *FileMgr) MoveProjectEntry(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.requireEditableProject(c, projectID)
	if project == nil {
		return
	}
	var req MoveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	src, okSrc := cleanRelPath(req.Source)
	dst, okDst := cleanRelPath(req.Destination)
	if !okSrc || !okDst || src == "" || dst == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	root := submission.ActiveFileRoot(project)
	if err := mgr.backend.Rename(path.Join(root, src), path.Join(root, dst)); err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, "Moved")
}

func (mgr *FileMgr) DownloadProjectFile(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.loadProjectForRead(c, projectID)
	if project == nil {
		return
	}
	var q PathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(q.Path)
	if !ok || rel == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	mgr.streamFile(c, path.Join(submission.ActiveFileRoot(project), rel))
}

func (mgr *FileMgr) GetProjectQuota(c *gin.Context) {
	projectID, err := parseIDParam(c, "id")
	if err != nil {
		return
	}
	project := mgr.loadProjectForRead(c, projectID)
	if project == nil {
		return
	}
	scan, err := mgr.projectQuota(project)
	if err != nil {
		replyServiceError(c, err)
		return
	}
	resputil.Success(c, QuotaResp{
		BytesUsed:  scan.BytesUsed(),
		BytesHard:  scan.BytesHard(),
		InodesUsed: scan.InodesUsed(),
		InodesHard: scan.InodesHard(),
	})
}

// projectQuota builds a freshly scanned quota view of the active tree.
// Published versions of the same core project count against the
// allowance through their incremental sizes.
func (mgr *FileMgr) projectQuota(project *model.ActiveProject) (*quota.ScanManager, error) {
	var core model.CoreProject
	if err := mgr.db.First(&core, project.Metadata.CoreProjectID).Error; err != nil {
		return nil, err
	}
	var baseBytes int64
	err := mgr.db.Model(&model.PublishedProject{}).
		Where("core_project_id = ?", core.ID).
		Select("COALESCE(SUM(incremental_storage_size), 0)").
		Scan(&baseBytes).Error
	if err != nil {
		return nil, err
	}

	scan := quota.NewScanManager(mgr.backend, submission.ActiveFileRoot(project), baseBytes)
	scan.SetLimits(core.StorageAllowance, core.InodeAllowance)
	if err := scan.Refresh(); err != nil {
		return nil, err
	}
	return scan, nil
}

func (mgr *FileMgr) ListPublishedFiles(c *gin.Context) {
	project := mgr.checkPublishedAccess(c)
	if project == nil {
		return
	}
	var q PathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(q.Path)
	if !ok {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	infos, err := mgr.backend.ListDir(path.Join(submission.PublishedFileRoot(project), rel))
	if err != nil {
		replyStorageError(c, err)
		return
	}
	resputil.Success(c, fileEntries(infos))
}

func (mgr *FileMgr) DownloadPublishedFile(c *gin.Context) {
	if !mgr.flags.EnableFileDownloads {
		resputil.Error(c, "File downloads are disabled", resputil.UserNotAllowed)
		return
	}
	project := mgr.checkPublishedAccess(c)
	if project == nil {
		return
	}
	var q PathQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	rel, ok := cleanRelPath(q.Path)
	if !ok || rel == "" {
		resputil.BadRequestError(c, "Invalid path")
		return
	}
	mgr.streamFile(c, path.Join(submission.PublishedFileRoot(project), rel))
}

// checkPublishedAccess resolves the published version and applies the
// access policy. These routes are public, so the bearer token is
// optional: an anonymous caller reaches open projects only.
func (mgr *FileMgr) checkPublishedAccess(c *gin.Context) *model.PublishedProject {
	var project model.PublishedProject
	err := mgr.db.Where("slug = ? AND version = ?", c.Param("slug"), c.Param("version")).
		First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		resputil.Error(c, "Project not found", resputil.NotFound)
		return nil
	}
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return nil
	}

	user := mgr.optionalUser(c)
	if err := mgr.access.CanAccessFiles(user, &project); err != nil {
		replyServiceError(c, err)
		return nil
	}
	return &project
}

// optionalUser returns the authenticated user when a valid bearer
// token accompanies the request, nil otherwise.
func (mgr *FileMgr) optionalUser(c *gin.Context) *model.User {
	parts := strings.Split(c.Request.Header.Get("Authorization"), " ")
	if len(parts) < 2 || parts[0] != "Bearer" {
		return nil
	}
	token, err := util.GetTokenMgr().CheckToken(parts[1])
	if err != nil {
		return nil
	}
	var user model.User
	if err := mgr.db.First(&user, token.UserID).Error; err != nil {
		return nil
	}
	return &user
}

func (mgr *FileMgr) streamFile(c *gin.Context, fullPath string) {
	reader, err := mgr.backend.Open(fullPath)
	if err != nil {
		replyStorageError(c, err)
		return
	}
	defer reader.Close()
	c.Header("Content-Disposition", "attachment; filename=\""+path.Base(fullPath)+"\"")
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", reader, nil)
}

func replyStorageError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		resputil.Error(c, "File not found", resputil.NotFound)
		return
	}
	resputil.Error(c, err.Error(), resputil.NotSpecified)
}
