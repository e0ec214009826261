package submission

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/storage"
)

func TestPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)

	abstract := `See <a href="/project/` + project.Slug + `/files/fig1.png">figure 1</a>.`
	require.NoError(t, env.db.Model(project).Update("abstract", abstract).Error)
	require.NoError(t, env.db.Create(&model.Topic{
		Owner:       model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
		Description: "Hemodynamics",
	}).Error)
	require.NoError(t, env.backend.FWrite(ActiveFileRoot(project)+"/records.csv", []byte("1,2,3\n")))

	walkToApproval(t, env, project, editor)

	published, err := env.svc.Publish(ctx, project.ID, PublishOptions{Slug: "apwave"})
	require.NoError(t, err)
	assert.Equal(t, "apwave", published.Slug)
	assert.Equal(t, "1.0.0", published.Version)
	assert.True(t, published.IsLatestVersion)
	assert.Equal(t, 0, published.VersionOrder)

	// The active row is gone.
	_, err = env.svc.loadActive(project.ID)
	assert.Error(t, err)

	// Internal links now point at the published serving prefix.
	var reloaded model.PublishedProject
	require.NoError(t, env.db.First(&reloaded, published.ID).Error)
	assert.Contains(t, reloaded.Metadata.Abstract, "/files/apwave/1.0.0/fig1.png")
	assert.NotContains(t, reloaded.Metadata.Abstract, "/project/")

	// Authors are frozen with a contact for the corresponding author.
	var authors []model.PublishedAuthor
	require.NoError(t, env.db.Where("published_project_id = ?", published.ID).Find(&authors).Error)
	require.Len(t, authors, 1)
	assert.Equal(t, "Lovelace", authors[0].LastName)

	var contact model.Contact
	require.NoError(t, env.db.Where("published_project_id = ?", published.ID).First(&contact).Error)
	assert.Equal(t, creator.Email, contact.Email)

	// The audit trail moved, not copied.
	var logs []model.EditLog
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerPublished, published.ID).
		Find(&logs).Error)
	assert.Len(t, logs, 1)
	var leftover int64
	require.NoError(t, env.db.Model(&model.EditLog{}).
		Where("owner_kind = ?", model.OwnerActive).Count(&leftover).Error)
	assert.Zero(t, leftover)

	// Topics merged into the global tag table.
	var tag model.PublishedTopic
	require.NoError(t, env.db.Where("description = ?", "hemodynamics").First(&tag).Error)
	assert.Equal(t, 1, tag.ProjectCount)

	// The file tree changed owner.
	f, err := env.backend.Open(PublishedFileRoot(published) + "/records.csv")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "1,2,3\n", string(content))

	// The file finalization task is queued.
	var task model.Task
	require.NoError(t, env.db.Where("kind = ?", model.TaskKindPostPublishFiles).First(&task).Error)
	assert.Equal(t, model.TaskStatusPending, task.Status)
}

func TestPublishRequiresPublishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	project := newSubmittableProject(t, env, creator)

	_, err := env.svc.Publish(ctx, project.ID, PublishOptions{})
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestPublishVersionChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.backend.FWrite(ActiveFileRoot(project)+"/data.bin", []byte("abc")))
	walkToApproval(t, env, project, editor)

	first, err := env.svc.Publish(ctx, project.ID, PublishOptions{Slug: "apwave"})
	require.NoError(t, err)

	next, err := env.svc.NewVersion(ctx, first.Metadata.CoreProjectID, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "apwave", next.Slug)
	assert.Equal(t, "1.1.0", next.Metadata.Version)

	// Unchanged files were carried into the new draft.
	f, err := env.backend.Open(ActiveFileRoot(next) + "/data.bin")
	require.NoError(t, err)
	f.Close()

	walkToApproval(t, env, next, editor)

	// A conflicting slug aborts; the chain slug is immutable.
	_, err = env.svc.Publish(ctx, next.ID, PublishOptions{Slug: "other"})
	_, ok := AsValidation(err)
	require.True(t, ok)

	second, err := env.svc.Publish(ctx, next.ID, PublishOptions{})
	require.NoError(t, err)
	assert.Equal(t, "apwave", second.Slug)

	// Version ordering covers the whole chain.
	var versions []model.PublishedProject
	require.NoError(t, env.db.
		Where("core_project_id = ?", first.Metadata.CoreProjectID).
		Order("version_order").Find(&versions).Error)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.0.0", versions[0].Version)
	assert.False(t, versions[0].IsLatestVersion)
	assert.Equal(t, "1.1.0", versions[1].Version)
	assert.True(t, versions[1].IsLatestVersion)
}

func TestPublishRollbackLeavesActiveIntact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.backend.FWrite(ActiveFileRoot(project)+"/data.bin", []byte("abc")))
	walkToApproval(t, env, project, editor)

	// An unrelated published row occupies the slug+version pair, so
	// the insert inside the transaction fails.
	blocker := model.PublishedProject{
		Metadata: model.Metadata{CoreProjectID: 9999, ResourceType: model.ResourceDatabase, Title: "x"},
		Slug:     "apwave",
		Version:  "1.0.0",
	}
	require.NoError(t, env.db.Create(&blocker).Error)

	_, err := env.svc.Publish(ctx, project.ID, PublishOptions{Slug: "apwave"})
	require.Error(t, err)

	// Everything is untouched: the active row, its authors, its files.
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingPublish, reloaded.SubmissionStatus)

	authors, err := env.svc.activeAuthors(project.ID)
	require.NoError(t, err)
	assert.Len(t, authors, 1)

	f, err := env.backend.Open(ActiveFileRoot(reloaded) + "/data.bin")
	require.NoError(t, err)
	f.Close()
}

func TestNewVersionCarriesTopics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.db.Create(&model.Topic{
		Owner:       model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
		Description: "Hemodynamics",
	}).Error)
	walkToApproval(t, env, project, editor)
	first, err := env.svc.Publish(ctx, project.ID, PublishOptions{})
	require.NoError(t, err)

	next, err := env.svc.NewVersion(ctx, first.Metadata.CoreProjectID, "1.1.0")
	require.NoError(t, err)

	// The global tags come back as editable keyword rows.
	var topics []model.Topic
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, next.ID).
		Find(&topics).Error)
	require.Len(t, topics, 1)
	assert.Equal(t, "hemodynamics", topics[0].Description)
}

type stuckCopyBackend struct {
	storage.Backend
}

func (stuckCopyBackend) CpDir(src, dst string, ignore []string) error {
	return errors.New("no space left")
}

func TestNewVersionRollsBackOnCopyFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	walkToApproval(t, env, project, editor)
	first, err := env.svc.Publish(ctx, project.ID, PublishOptions{})
	require.NoError(t, err)

	broken := NewService(env.db, stuckCopyBackend{env.backend}, env.notifier,
		env.queue, nil, config.DefaultFlags(), "PhysioNet")
	_, err = broken.NewVersion(ctx, first.Metadata.CoreProjectID, "1.1.0")
	require.Error(t, err)

	// No empty draft survives the failed copy.
	var drafts int64
	require.NoError(t, env.db.Model(&model.ActiveProject{}).
		Where("core_project_id = ?", first.Metadata.CoreProjectID).
		Count(&drafts).Error)
	assert.Zero(t, drafts)

	// A retry with a healthy backend succeeds.
	next, err := env.svc.NewVersion(ctx, first.Metadata.CoreProjectID, "1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", next.Metadata.Version)
}

func TestNewVersionRejectsLowerVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	walkToApproval(t, env, project, editor)
	first, err := env.svc.Publish(ctx, project.ID, PublishOptions{})
	require.NoError(t, err)

	_, err = env.svc.NewVersion(ctx, first.Metadata.CoreProjectID, "0.9.0")
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestCompareVersions(t *testing.T) {
	assert.Negative(t, CompareVersions("1.0.0", "1.1.0"))
	assert.Negative(t, CompareVersions("1.9.0", "1.10.0"))
	assert.Positive(t, CompareVersions("2.0.0", "1.9.9"))
	assert.Zero(t, CompareVersions("1.0.0", "1.0.0"))
	// Loose versions fall back to string order.
	assert.Negative(t, CompareVersions("abc", "abd"))
}
