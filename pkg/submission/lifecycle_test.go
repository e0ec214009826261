package submission

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
)

func TestCreateProject(t *testing.T) {
	env := newTestEnv(t)
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	project := newSubmittableProject(t, env, creator)

	assert.Equal(t, model.StatusDraft, project.SubmissionStatus)
	assert.NotEmpty(t, project.Slug)
	assert.NotZero(t, project.Metadata.CoreProjectID)

	authors, err := env.svc.activeAuthors(project.ID)
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.True(t, authors[0].IsSubmitting)
	assert.True(t, authors[0].IsCorresponding)
	assert.Equal(t, 1, authors[0].DisplayOrder)
}

func TestSubmitLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)

	require.NoError(t, env.svc.Submit(ctx, project.ID, "first cut"))
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingEditor, reloaded.SubmissionStatus)
	assert.NotNil(t, reloaded.SubmissionInfo.SubmissionDatetime)

	// Double submission is rejected.
	err = env.svc.Submit(ctx, project.ID, "again")
	_, ok := AsValidation(err)
	assert.True(t, ok)

	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))
	reloaded, err = env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, reloaded.SubmissionStatus)
	require.NotNil(t, reloaded.SubmissionInfo.EditorID)
	assert.Equal(t, editor.ID, *reloaded.SubmissionInfo.EditorID)
}

func TestSubmitBlockedByIntegrity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	project := newSubmittableProject(t, env, creator)

	require.NoError(t, env.db.Model(project).Update("ethics_statement", "").Error)

	err := env.svc.Submit(ctx, project.ID, "")
	verr, ok := AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Reasons, "missing ethics statement")

	// The problem list is stored for display.
	var stored []model.IntegrityError
	require.NoError(t, env.db.Where("active_project_id = ?", project.ID).Find(&stored).Error)
	assert.NotEmpty(t, stored)
}

func TestAssignEditorRequiresCapability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	plain := newTestUser(t, env.db, "bob", model.RoleUser)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))

	err := env.svc.AssignEditor(ctx, project.ID, plain.ID)
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestEditorDecisionRevise(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))

	err := env.svc.EditorDecision(ctx, project.ID, Decision{
		Decision:       model.DecisionRevise,
		EditorComments: "needs more detail",
	})
	require.NoError(t, err)

	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRevisionRequired, reloaded.SubmissionStatus)
	assert.True(t, reloaded.AuthorEditable())

	require.NoError(t, env.svc.Resubmit(ctx, project.ID, "addressed comments"))
	reloaded, err = env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, reloaded.SubmissionStatus)

	var logs []model.EditLog
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.False(t, logs[0].IsResubmission)
	assert.True(t, logs[1].IsResubmission)
}

func TestEditorDecisionAcceptRequiresFullQA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))

	incomplete := acceptedDecision()
	incomplete.DataMachineReadable = nil
	err := env.svc.EditorDecision(ctx, project.ID, incomplete)
	_, ok := AsValidation(err)
	require.True(t, ok)

	// The project did not move.
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, reloaded.SubmissionStatus)

	require.NoError(t, env.svc.EditorDecision(ctx, project.ID, acceptedDecision()))
	reloaded, err = env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderCopyedit, reloaded.SubmissionStatus)

	var copyedits []model.CopyeditLog
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		Find(&copyedits).Error)
	assert.Len(t, copyedits, 1)
}

func TestEditorDecisionReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))

	err := env.svc.EditorDecision(ctx, project.ID, Decision{Decision: model.DecisionReject})
	require.NoError(t, err)

	// The active row is gone, the archived snapshot exists.
	_, err = env.svc.loadActive(project.ID)
	assert.Error(t, err)

	var archived model.ArchivedProject
	require.NoError(t, env.db.Where("slug = ?", project.Slug).First(&archived).Error)
	assert.Equal(t, model.ArchiveRejected, archived.ArchiveReason)

	// Authors moved with it.
	var authors []model.Author
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerArchived, archived.ID).
		Find(&authors).Error)
	assert.Len(t, authors, 1)
}

type stuckMoveBackend struct {
	storage.Backend
}

func (stuckMoveBackend) Mv(src, dst string) error {
	return errors.New("device busy")
}

func TestEditorDecisionRejectSurvivesArchiveFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))

	broken := NewService(env.db, stuckMoveBackend{env.backend}, env.notifier,
		env.queue, nil, config.DefaultFlags(), "PhysioNet")
	err := broken.EditorDecision(ctx, project.ID, Decision{Decision: model.DecisionReject})
	require.Error(t, err)

	// The failed archive rolled back with the decision: the project is
	// still under review and the cycle is still pending.
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderReview, reloaded.SubmissionStatus)

	var pending int64
	require.NoError(t, env.db.Model(&model.EditLog{}).
		Where("owner_kind = ? AND owner_id = ? AND decision IS NULL",
			model.OwnerActive, project.ID).
		Count(&pending).Error)
	assert.EqualValues(t, 1, pending)

	// The editor can decide again once the backend recovers.
	require.NoError(t, env.svc.EditorDecision(ctx, project.ID, Decision{Decision: model.DecisionReject}))
}

func TestCopyeditLoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))
	require.NoError(t, env.svc.EditorDecision(ctx, project.ID, acceptedDecision()))

	require.NoError(t, env.svc.CompleteCopyedit(ctx, project.ID, true, "normalized headers"))
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingApproval, reloaded.SubmissionStatus)

	// One author approves, then the copyedit reopens: the approval
	// must be re-collected.
	authors, err := env.svc.activeAuthors(project.ID)
	require.NoError(t, err)
	changed, err := env.svc.ApproveAuthor(ctx, project.ID, authors[0].ID)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, env.svc.ReopenCopyedit(ctx, project.ID))
	reloaded, err = env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnderCopyedit, reloaded.SubmissionStatus)

	authors, err = env.svc.activeAuthors(project.ID)
	require.NoError(t, err)
	assert.Nil(t, authors[0].ApprovalDatetime)

	var copyedits []model.CopyeditLog
	require.NoError(t, env.db.
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		Order("id").Find(&copyedits).Error)
	require.Len(t, copyedits, 2)
	assert.False(t, copyedits[0].IsReedit)
	assert.True(t, copyedits[1].IsReedit)
}

func TestApproveAuthorIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))
	require.NoError(t, env.svc.AssignEditor(ctx, project.ID, editor.ID))
	require.NoError(t, env.svc.EditorDecision(ctx, project.ID, acceptedDecision()))
	require.NoError(t, env.svc.CompleteCopyedit(ctx, project.ID, false, ""))

	authors, err := env.svc.activeAuthors(project.ID)
	require.NoError(t, err)
	changed, err := env.svc.ApproveAuthor(ctx, project.ID, authors[0].ID)
	require.NoError(t, err)
	assert.True(t, changed)

	// The sole author approved, so the project advanced; a second
	// approval call fails on state, not on the author.
	reloaded, err := env.svc.loadActive(project.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingPublish, reloaded.SubmissionStatus)
	assert.NotNil(t, reloaded.SubmissionInfo.AuthorApprovalDatetime)

	publishable, err := env.svc.IsPublishable(reloaded)
	require.NoError(t, err)
	assert.True(t, publishable)
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)

	// Draft cannot take editorial operations.
	assert.ErrorIs(t, env.svc.AssignEditor(ctx, project.ID, editor.ID), ErrInvalidTransition)
	assert.ErrorIs(t, env.svc.EditorDecision(ctx, project.ID, acceptedDecision()), ErrInvalidTransition)
	assert.ErrorIs(t, env.svc.CompleteCopyedit(ctx, project.ID, false, ""), ErrInvalidTransition)
	assert.ErrorIs(t, env.svc.ReopenCopyedit(ctx, project.ID), ErrInvalidTransition)
	assert.ErrorIs(t, env.svc.Resubmit(ctx, project.ID, ""), ErrInvalidTransition)
}

func TestVoluntaryArchiveBlockedUnderSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	project := newSubmittableProject(t, env, creator)
	require.NoError(t, env.svc.Submit(ctx, project.ID, ""))

	_, err := env.svc.Archive(ctx, project.ID, model.ArchiveVoluntary)
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestNotificationsFired(t *testing.T) {
	env := newTestEnv(t)
	creator := newTestUser(t, env.db, "alice", model.RoleUser)
	editor := newTestUser(t, env.db, "ed", model.RoleEditor)
	project := newSubmittableProject(t, env, creator)
	walkToApproval(t, env, project, editor)

	kinds := make([]notify.EventKind, 0, len(env.notifier.Events))
	for _, e := range env.notifier.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, notify.EventSubmit)
	assert.Contains(t, kinds, notify.EventEditDecision)
	assert.Contains(t, kinds, notify.EventCopyeditComplete)
	assert.Contains(t, kinds, notify.EventAuthorApproved)
}
