package submission

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
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
		&model.Task{},
	))
	return db
}

type testEnv struct {
	svc      *Service
	db       *gorm.DB
	backend  storage.Backend
	notifier *notify.LogNotifier
	queue    *taskqueue.Queue
	root     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	root := t.TempDir()
	backend := storage.NewLocalBackend(root)
	notifier := &notify.LogNotifier{}
	queue := taskqueue.New(db, notifier, 1, time.Millisecond)
	svc := NewService(db, backend, notifier, queue, nil, config.DefaultFlags(), "PhysioNet")
	return &testEnv{svc: svc, db: db, backend: backend, notifier: notifier, queue: queue, root: root}
}

func newTestUser(t *testing.T, db *gorm.DB, username string, role model.Role) *model.User {
	t.Helper()
	user := model.User{
		Username:   username,
		Email:      username + "@example.com",
		FirstNames: "Ada",
		LastName:   "Lovelace",
		Role:       role,
		IsActive:   true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// newSubmittableProject creates a draft that passes the integrity
// check: full metadata, an open-access license, and a creator with a
// profile name and one affiliation.
func newSubmittableProject(t *testing.T, env *testEnv, creator *model.User) *model.ActiveProject {
	t.Helper()
	license := model.License{
		Name:         "Open Data License " + creator.Username,
		Slug:         "odl-" + creator.Username,
		AccessPolicy: model.AccessOpen,
		Text:         "Use freely.",
	}
	require.NoError(t, env.db.Create(&license).Error)

	meta := model.Metadata{
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
		LicenseID:           &license.ID,
	}
	project, err := env.svc.CreateProject(context.Background(), creator, meta)
	require.NoError(t, err)

	var author model.Author
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		First(&author).Error)
	require.NoError(t, env.db.Create(&model.Affiliation{AuthorID: author.ID, Name: "MIT"}).Error)
	return project
}

// acceptedDecision is a fully affirmative checklist for a database
// resource.
func acceptedDecision() Decision {
	yes := true
	return Decision{
		Decision:            model.DecisionAccept,
		SoundlyProduced:     &yes,
		WellDescribed:       &yes,
		OpenFormat:          &yes,
		DataMachineReadable: &yes,
		Reusable:            &yes,
		NoPHI:               &yes,
		PNSuitable:          &yes,
		EthicsIncluded:      &yes,
	}
}

// walkToApproval drives a fresh draft to awaiting-publish.
func walkToApproval(t *testing.T, env *testEnv, project *model.ActiveProject, editor *model.User) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.svc.Submit(ctx, project.ID, "please review"))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))
	require.NoError(t, env.svc.EditorDecision(ctx, project.ID, acceptedDecision()))
	require.NoError(t, env.svc.CompleteCopyedit(ctx, project.ID, true, "fixed typos"))

	var authors []model.Author
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		Find(&authors).Error)
	for i := range authors {
		_, err := env.svc.ApproveAuthor(ctx, project.ID, authors[i].ID)
		require.NoError(t, err)
	}
}
