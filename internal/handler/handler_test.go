package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/internal/resputil"
	"github.com/mit-lcp/physionet-server/internal/util"
	"github.com/mit-lcp/physionet-server/pkg/access"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/submission"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

// testUserHeader carries the acting username in tests; the identity
// middleware below replaces the JWT middleware of the real router.
const testUserHeader = "X-Test-User"

type handlerEnv struct {
	db      *gorm.DB
	backend storage.Backend
	svc     *submission.Service
	router  *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.TrainingType{},
		&model.TrainingRecord{},
		&model.CoreProject{},
		&model.StorageRequest{},
		&model.License{},
		&model.DUA{},
		&model.ActiveProject{},
		&model.IntegrityError{},
		&model.InternalNote{},
		&model.ArchivedProject{},
		&model.PublishedProject{},
		&model.Author{},
		&model.Affiliation{},
		&model.PublishedAuthor{},
		&model.PublishedAffiliation{},
		&model.AuthorInvitation{},
		&model.EditLog{},
		&model.CopyeditLog{},
		&model.Reference{},
		&model.Publication{},
		&model.Topic{},
		&model.PublishedTopic{},
		&model.ProjectTopic{},
		&model.ProgrammingLanguage{},
		&model.ProjectLanguage{},
		&model.ParentProject{},
		&model.RequiredTraining{},
		&model.UploadedDocument{},
		&model.Contact{},
		&model.AnonymousAccess{},
		&model.DUASignature{},
		&model.DataAccessRequest{},
		&model.DataAccessRequestReviewer{},
		&model.Task{},
		&model.CronJobConfig{},
		&model.CronJobRecord{},
	))

	backend := storage.NewLocalBackend(t.TempDir())
	notifier := &notify.LogNotifier{}
	queue := taskqueue.New(db, notifier, 1, time.Millisecond)
	svc := submission.NewService(db, backend, notifier, queue, nil, config.DefaultFlags(), "PhysioNet")
	accessSvc := access.NewService(db, notifier, 180)

	conf := RegisterConfig{
		DB:         db,
		Backend:    backend,
		Submission: svc,
		Access:     accessSvc,
		Queue:      queue,
		Notifier:   notifier,
		Flags:      config.DefaultFlags(),
		SiteName:   "PhysioNet",
	}

	identify := func(c *gin.Context) {
		username := c.GetHeader(testUserHeader)
		if username == "" {
			resputil.HTTPError(c, http.StatusUnauthorized, "Invalid token", resputil.TokenExpired)
			c.Abort()
			return
		}
		var user model.User
		if err := db.Where("username = ?", username).First(&user).Error; err != nil {
			resputil.HTTPError(c, http.StatusUnauthorized, "User not found", resputil.TokenExpired)
			c.Abort()
			return
		}
		util.SetJWTContext(c, util.JWTMessage{UserID: user.ID, Username: user.Username, Role: user.Role})
		c.Next()
	}
	requireRole := func(min model.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			if util.GetToken(c).Role < min {
				resputil.HTTPError(c, http.StatusUnauthorized, "Forbidden", resputil.UserNotAllowed)
				c.Abort()
				return
			}
			c.Next()
		}
	}

	router := gin.New()
	publicRouter := router.Group("/v1")
	protectedRouter := router.Group("/v1")
	protectedRouter.Use(identify)
	editorRouter := router.Group("/v1/editor")
	editorRouter.Use(identify, requireRole(model.RoleEditor))
	adminRouter := router.Group("/v1/admin")
	adminRouter.Use(identify, requireRole(model.RoleAdmin))

	for _, register := range Registers {
		mgr := register(conf)
		mgr.RegisterPublic(publicRouter.Group(mgr.GetName()))
		mgr.RegisterProtected(protectedRouter.Group(mgr.GetName()))
		mgr.RegisterEditor(editorRouter.Group(mgr.GetName()))
		mgr.RegisterAdmin(adminRouter.Group(mgr.GetName()))
	}

	return &handlerEnv{db: db, backend: backend, svc: svc, router: router}
}

func (e *handlerEnv) newUser(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	user := model.User{
		Username:   username,
		Email:      username + "@example.com",
		FirstNames: "Ada",
		LastName:   "Lovelace",
		Role:       role,
		IsActive:   true,
	}
	require.NoError(t, e.db.Create(&user).Error)
	return &user
}

func (e *handlerEnv) do(t *testing.T, method, target, asUser string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if asUser != "" {
		req.Header.Set(testUserHeader, asUser)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) resputil.Response[json.RawMessage] {
	t.Helper()
	var resp resputil.Response[json.RawMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func draftMetadata(licenseID *uint) model.Metadata {
	return model.Metadata{
		ResourceType:        model.ResourceDatabase,
		Title:               "Arterial Pressure Waveforms",
		ShortDescription:    "Continuous pressure recordings",
		Abstract:            "An abstract.",
		Background:          "Background.",
		Methods:             "Methods.",
		ContentDescription:  "Content.",
		UsageNotes:          "Usage.",
		ConflictsOfInterest: "None.",
		EthicsStatement:     "IRB approved.",
		Version:             "1.0.0",
		AccessPolicy:        model.AccessOpen,
		LicenseID:           licenseID,
	}
}

func TestCreateAndListProjects(t *testing.T) {
	env := newHandlerEnv(t)
	env.newUser(t, "alice", model.RoleUser)

	w := env.do(t, http.MethodPost, "/v1/project", "alice",
		gin.H{"metadata": draftMetadata(nil)})
	require.Equal(t, http.StatusOK, w.Code)
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code)

	var created ProjectSummary
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, "Arterial Pressure Waveforms", created.Title)
	assert.Equal(t, model.StatusDraft, created.Status)

	w = env.do(t, http.MethodGet, "/v1/project", "alice", nil)
	resp = envelope(t, w)
	var list []ProjectSummary
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	// Another account sees nothing and cannot read the draft.
	env.newUser(t, "mallory", model.RoleUser)
	w = env.do(t, http.MethodGet, "/v1/project", "mallory", nil)
	resp = envelope(t, w)
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Empty(t, list)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/v1/project/%d", created.ID), "mallory", nil)
	resp = envelope(t, w)
	assert.Equal(t, resputil.UserNotAllowed, resp.Code)
}

func TestSubmitRequiresSubmittingAuthor(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.newUser(t, "alice", model.RoleUser)
	bob := env.newUser(t, "bob", model.RoleUser)

	project := newDraft(t, env, alice)
	coauthor := model.Author{
		Owner:        model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
		UserID:       bob.ID,
		DisplayOrder: 2,
	}
	require.NoError(t, env.db.Create(&coauthor).Error)
	require.NoError(t, env.db.Create(&model.Affiliation{AuthorID: coauthor.ID, Name: "MIT"}).Error)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/project/%d/submit", project.ID), "bob",
		gin.H{"comments": "please review"})
	resp := envelope(t, w)
	assert.Equal(t, resputil.UserNotAllowed, resp.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/v1/project/%d/submit", project.ID), "alice",
		gin.H{"comments": "please review"})
	resp = envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)

	var reloaded model.ActiveProject
	require.NoError(t, env.db.First(&reloaded, project.ID).Error)
	assert.Equal(t, model.StatusAwaitingEditor, reloaded.SubmissionStatus)
}

// newDraft creates a draft through the service that passes the
// integrity check, so submit succeeds from the handler.
func newDraft(t *testing.T, env *handlerEnv, creator *model.User) *model.ActiveProject {
	t.Helper()
	license := model.License{
		Name:         "Open Data License " + creator.Username,
		Slug:         "odl-" + creator.Username,
		AccessPolicy: model.AccessOpen,
		Text:         "Use freely.",
	}
	require.NoError(t, env.db.Create(&license).Error)

	w := env.do(t, http.MethodPost, "/v1/project", creator.Username,
		gin.H{"metadata": draftMetadata(&license.ID)})
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)
	var created ProjectSummary
	require.NoError(t, json.Unmarshal(resp.Data, &created))

	var project model.ActiveProject
	require.NoError(t, env.db.First(&project, created.ID).Error)

	var author model.Author
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		First(&author).Error)
	require.NoError(t, env.db.Create(&model.Affiliation{AuthorID: author.ID, Name: "MIT"}).Error)
	return &project
}

func TestConsoleAssignedEditorGate(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.newUser(t, "alice", model.RoleUser)
	env.newUser(t, "ed", model.RoleEditor)
	env.newUser(t, "other", model.RoleEditor)
	env.newUser(t, "root", model.RoleAdmin)

	project := newDraft(t, env, alice)
	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/project/%d/submit", project.ID), "alice",
		gin.H{"comments": ""})
	require.Equal(t, resputil.OK, envelope(t, w).Code)

	var ed model.User
	require.NoError(t, env.db.Where("username = ?", "ed").First(&ed).Error)
	w = env.do(t, http.MethodPost, fmt.Sprintf("/v1/editor/console/projects/%d/assign", project.ID),
		"other", gin.H{"editorID": ed.ID})
	require.Equal(t, resputil.OK, envelope(t, w).Code)

	decision := gin.H{
		"decision":            model.DecisionAccept,
		"soundlyProduced":     true,
		"wellDescribed":       true,
		"openFormat":          true,
		"dataMachineReadable": true,
		"reusable":            true,
		"noPHI":               true,
		"pnSuitable":          true,
		"ethicsIncluded":      true,
	}

	// Only the assigned editor or an admin may decide.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/v1/editor/console/projects/%d/decision", project.ID),
		"other", decision)
	assert.Equal(t, resputil.UserNotAllowed, envelope(t, w).Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/v1/editor/console/projects/%d/decision", project.ID),
		"ed", decision)
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)

	var reloaded model.ActiveProject
	require.NoError(t, env.db.First(&reloaded, project.ID).Error)
	assert.Equal(t, model.StatusUnderCopyedit, reloaded.SubmissionStatus)
}

func TestPublishedCatalogAndFiles(t *testing.T) {
	env := newHandlerEnv(t)

	core := model.CoreProject{}
	require.NoError(t, env.db.Create(&core).Error)
	meta := draftMetadata(nil)
	meta.CoreProjectID = core.ID
	published := model.PublishedProject{
		Metadata:        meta,
		Slug:            "apwave",
		Version:         "1.0.0",
		PublishDatetime: time.Now().AddDate(0, 0, -30),
		IsLatestVersion: true,
	}
	require.NoError(t, env.db.Create(&published).Error)
	require.NoError(t, env.backend.FWrite(
		submission.PublishedFileRoot(&published)+"/RECORDS.txt", []byte("r001\nr002\n")))

	// Catalog and detail are public.
	w := env.do(t, http.MethodGet, "/v1/access/published", "", nil)
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code)
	var list []PublishedSummary
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "apwave", list[0].Slug)

	w = env.do(t, http.MethodGet, "/v1/access/published/apwave", "", nil)
	resp = envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code)
	var detail PublishedDetail
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, "1.0.0", detail.Version)
	assert.NotEmpty(t, detail.Citation)

	// Open-access files are listed and downloadable anonymously.
	w = env.do(t, http.MethodGet, "/v1/files/published/apwave/1.0.0/files", "", nil)
	resp = envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)
	var entries []FileEntry
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "RECORDS.txt", entries[0].Name)

	w = env.do(t, http.MethodGet, "/v1/files/published/apwave/1.0.0/download?path=RECORDS.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r001\nr002\n", w.Body.String())

	// Credentialed projects deny anonymous callers.
	meta2 := draftMetadata(nil)
	meta2.CoreProjectID = core.ID
	meta2.AccessPolicy = model.AccessCredentialed
	restricted := model.PublishedProject{
		Metadata:        meta2,
		Slug:            "apwave-protected",
		Version:         "1.0.0",
		PublishDatetime: time.Now().AddDate(0, 0, -30),
		IsLatestVersion: true,
	}
	require.NoError(t, env.db.Create(&restricted).Error)

	w = env.do(t, http.MethodGet, "/v1/files/published/apwave-protected/1.0.0/files", "", nil)
	resp = envelope(t, w)
	assert.Equal(t, resputil.UserNotAllowed, resp.Code)
}

func TestProjectFileUploadAndQuota(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.newUser(t, "alice", model.RoleUser)
	project := newDraft(t, env, alice)

	var core model.CoreProject
	require.NoError(t, env.db.First(&core, project.Metadata.CoreProjectID).Error)
	require.NoError(t, env.db.Model(&core).Update("storage_allowance", int64(16)).Error)

	upload := func(name string, content []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost,
			fmt.Sprintf("/v1/files/projects/%d/files", project.ID), &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(testUserHeader, "alice")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	w := upload("notes.txt", []byte("0123456789"))
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)

	// The second file would push usage past the 16-byte allowance.
	w = upload("more.txt", []byte("0123456789"))
	resp = envelope(t, w)
	assert.Equal(t, resputil.QuotaExceeded, resp.Code)

	// Path traversal is rejected before touching storage.
	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/v1/files/projects/%d/files/download?path=../../etc/passwd", project.ID), nil)
	req.Header.Set(testUserHeader, "alice")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFolderChecksInodeQuota(t *testing.T) {
	env := newHandlerEnv(t)
	alice := env.newUser(t, "alice", model.RoleUser)
	project := newDraft(t, env, alice)

	var core model.CoreProject
	require.NoError(t, env.db.First(&core, project.Metadata.CoreProjectID).Error)
	require.NoError(t, env.db.Model(&core).Update("inode_allowance", int64(1)).Error)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/v1/files/projects/%d/folders", project.ID),
		"alice", gin.H{"path": "waveforms"})
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)

	// The second directory would exceed the entry allowance.
	w = env.do(t, http.MethodPost, fmt.Sprintf("/v1/files/projects/%d/folders", project.ID),
		"alice", gin.H{"path": "annotations"})
	resp = envelope(t, w)
	assert.Equal(t, resputil.QuotaExceeded, resp.Code)
}

func TestAdminUserManagement(t *testing.T) {
	env := newHandlerEnv(t)
	env.newUser(t, "root", model.RoleAdmin)
	target := env.newUser(t, "carol", model.RoleUser)

	w := env.do(t, http.MethodPut, fmt.Sprintf("/v1/admin/user/users/%d/role", target.ID),
		"root", gin.H{"role": model.RoleEditor})
	resp := envelope(t, w)
	require.Equal(t, resputil.OK, resp.Code, resp.Msg)

	var reloaded model.User
	require.NoError(t, env.db.First(&reloaded, target.ID).Error)
	assert.Equal(t, model.RoleEditor, reloaded.Role)

	// Non-admins never reach the route.
	w = env.do(t, http.MethodPut, fmt.Sprintf("/v1/admin/user/users/%d/role", target.ID),
		"carol", gin.H{"role": model.RoleAdmin})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
