package access

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

func newTestService(t *testing.T) (*Service, *gorm.DB, *notify.LogNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.TrainingType{},
		&model.TrainingRecord{},
		&model.PublishedProject{},
		&model.PublishedAuthor{},
		&model.RequiredTraining{},
		&model.DUASignature{},
		&model.DataAccessRequest{},
		&model.DataAccessRequestReviewer{},
		&model.AnonymousAccess{},
	))
	notifier := &notify.LogNotifier{}
	return NewService(db, notifier, 180), db, notifier
}

func newProject(t *testing.T, db *gorm.DB, policy model.AccessPolicy) *model.PublishedProject {
	t.Helper()
	project := model.PublishedProject{
		Metadata: model.Metadata{
			CoreProjectID: 1,
			ResourceType:  model.ResourceDatabase,
			Title:         "Waveforms",
			AccessPolicy:  policy,
		},
		Slug:            "waveforms-" + policy.String(),
		Version:         "1.0.0",
		PublishDatetime: time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, db.Create(&project).Error)
	return &project
}

func newUser(t *testing.T, db *gorm.DB, username string, credentialed bool) *model.User {
	t.Helper()
	user := model.User{
		Username:       username,
		Email:          username + "@example.com",
		FirstNames:     "Grace",
		LastName:       "Hopper",
		Role:           model.RoleUser,
		IsActive:       true,
		IsCredentialed: credentialed,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func TestOpenAccess(t *testing.T) {
	svc, db, _ := newTestService(t)
	project := newProject(t, db, model.AccessOpen)

	// Open projects need no account at all.
	assert.NoError(t, svc.CanAccessFiles(nil, project))
}

func TestDeprecatedAndEmbargoBlockEveryone(t *testing.T) {
	svc, db, _ := newTestService(t)

	deprecated := newProject(t, db, model.AccessOpen)
	require.NoError(t, db.Model(deprecated).Update("deprecated", true).Error)
	deprecated.Deprecated = true
	assert.Error(t, svc.CanAccessFiles(nil, deprecated))

	embargoed := model.PublishedProject{
		Metadata:         model.Metadata{CoreProjectID: 2, Title: "x", AccessPolicy: model.AccessOpen},
		Slug:             "embargoed",
		Version:          "1.0.0",
		PublishDatetime:  time.Now(),
		EmbargoFilesDays: 90,
	}
	require.NoError(t, db.Create(&embargoed).Error)
	err := svc.CanAccessFiles(nil, &embargoed)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Contains(t, denial.Reason, "embargo")
}

func TestRestrictedRequiresSignature(t *testing.T) {
	svc, db, _ := newTestService(t)
	project := newProject(t, db, model.AccessRestricted)
	user := newUser(t, db, "grace", false)

	assert.Error(t, svc.CanAccessFiles(nil, project))
	assert.Error(t, svc.CanAccessFiles(user, project))

	require.NoError(t, svc.SignDUA(user.ID, project.ID))
	assert.NoError(t, svc.CanAccessFiles(user, project))

	// Signing twice is harmless.
	require.NoError(t, svc.SignDUA(user.ID, project.ID))
	var signatures int64
	require.NoError(t, db.Model(&model.DUASignature{}).Count(&signatures).Error)
	assert.EqualValues(t, 1, signatures)
}

func TestCredentialedRequiresTrainingAndCredential(t *testing.T) {
	svc, db, _ := newTestService(t)
	project := newProject(t, db, model.AccessCredentialed)

	training := model.TrainingType{Name: "Human Subjects Research"}
	require.NoError(t, db.Create(&training).Error)
	require.NoError(t, db.Create(&model.RequiredTraining{
		Owner:          model.Owner{OwnerKind: model.OwnerPublished, OwnerID: project.ID},
		TrainingTypeID: training.ID,
	}).Error)

	plain := newUser(t, db, "plain", false)
	assert.Error(t, svc.CanAccessFiles(plain, project))

	user := newUser(t, db, "grace", true)
	err := svc.CanAccessFiles(user, project)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Contains(t, denial.Reason, "training required")

	// An expired record does not count.
	expired := time.Now().AddDate(0, 0, -1)
	require.NoError(t, db.Create(&model.TrainingRecord{
		UserID:         user.ID,
		TrainingTypeID: training.ID,
		CompletedAt:    time.Now().AddDate(-2, 0, 0),
		ExpiresAt:      &expired,
	}).Error)
	assert.Error(t, svc.CanAccessFiles(user, project))

	require.NoError(t, db.Create(&model.TrainingRecord{
		UserID:         user.ID,
		TrainingTypeID: training.ID,
		CompletedAt:    time.Now(),
	}).Error)
	require.NoError(t, svc.SignDUA(user.ID, project.ID))
	assert.NoError(t, svc.CanAccessFiles(user, project))
}

func TestContributorReviewFlow(t *testing.T) {
	svc, db, notifier := newTestService(t)
	ctx := context.Background()
	project := newProject(t, db, model.AccessContributorReview)
	require.NoError(t, db.Model(project).Update("self_managed_access", true).Error)

	corresponding := newUser(t, db, "pi", true)
	require.NoError(t, db.Create(&model.PublishedAuthor{
		PublishedProjectID: project.ID,
		UserID:             corresponding.ID,
		FirstNames:         "Grace",
		LastName:           "Hopper",
		DisplayOrder:       1,
		IsCorresponding:    true,
	}).Error)

	applicant := newUser(t, db, "student", true)
	request, err := svc.SubmitRequest(applicant.ID, project.ID, "Sepsis study", "Model training")
	require.NoError(t, err)

	// A second live application is rejected.
	_, err = svc.SubmitRequest(applicant.ID, project.ID, "Again", "")
	assert.Error(t, err)

	// Still no access while pending.
	assert.Error(t, svc.CanAccessFiles(applicant, project))

	// A stranger cannot decide; the corresponding author of a
	// self-managed project can.
	stranger := newUser(t, db, "stranger", true)
	err = svc.DecideRequest(ctx, stranger.ID, request.ID, true, "", nil)
	assert.Error(t, err)

	days := 30
	require.NoError(t, svc.DecideRequest(ctx, corresponding.ID, request.ID, true, "approved", &days))
	assert.NoError(t, svc.CanAccessFiles(applicant, project))

	require.Len(t, notifier.Events, 1)
	assert.Equal(t, notify.EventCredentialDecision, notifier.Events[0].Kind)

	// The grant lapses by computation once the duration passes.
	past := time.Now().AddDate(0, 0, -31)
	require.NoError(t, db.Model(&model.DataAccessRequest{}).
		Where("id = ?", request.ID).
		Update("decision_datetime", past).Error)
	assert.Error(t, svc.CanAccessFiles(applicant, project))
}

func TestWithdrawRequest(t *testing.T) {
	svc, db, _ := newTestService(t)
	project := newProject(t, db, model.AccessContributorReview)
	applicant := newUser(t, db, "student", true)
	other := newUser(t, db, "other", true)

	request, err := svc.SubmitRequest(applicant.ID, project.ID, "t", "p")
	require.NoError(t, err)

	assert.Error(t, svc.WithdrawRequest(other.ID, request.ID))
	require.NoError(t, svc.WithdrawRequest(applicant.ID, request.ID))

	var reloaded model.DataAccessRequest
	require.NoError(t, db.First(&reloaded, request.ID).Error)
	assert.Equal(t, model.RequestWithdrawn, reloaded.Status)

	// After withdrawal a new application may be filed.
	_, err = svc.SubmitRequest(applicant.ID, project.ID, "t2", "p2")
	assert.NoError(t, err)
}

func TestReviewerDelegation(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()
	project := newProject(t, db, model.AccessContributorReview)
	reviewer := newUser(t, db, "delegate", true)
	applicant := newUser(t, db, "student", true)

	require.NoError(t, svc.AddReviewer(project.ID, reviewer.ID))
	assert.Error(t, svc.AddReviewer(project.ID, reviewer.ID))

	request, err := svc.SubmitRequest(applicant.ID, project.ID, "t", "p")
	require.NoError(t, err)
	require.NoError(t, svc.DecideRequest(ctx, reviewer.ID, request.ID, false, "insufficient detail", nil))

	var reloaded model.DataAccessRequest
	require.NoError(t, db.First(&reloaded, request.ID).Error)
	assert.Equal(t, model.RequestRejected, reloaded.Status)

	// Revocation is soft: the row stays, the capability goes.
	require.NoError(t, svc.RevokeReviewer(project.ID, reviewer.ID))
	ok, err := svc.IsReviewer(reviewer.ID, project.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	var rows []model.DataAccessRequestReviewer
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsRevoked)
	assert.NotNil(t, rows[0].RevocationDatetime)
}

func TestAnonymousAccess(t *testing.T) {
	svc, db, _ := newTestService(t)
	owner := model.Owner{OwnerKind: model.OwnerActive, OwnerID: 7}

	token, passphrase, err := svc.GenerateAnonymousAccess(owner)
	require.NoError(t, err)
	assert.Len(t, passphrase, passphraseLength)

	// The stored row never contains the passphrase.
	var row model.AnonymousAccess
	require.NoError(t, db.Where("url_token = ?", token).First(&row).Error)
	assert.NotContains(t, row.PassphraseHash, passphrase)

	_, err = svc.CheckAnonymousPassphrase(token, "wrong")
	assert.Error(t, err)
	got, err := svc.CheckAnonymousPassphrase(token, passphrase)
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)

	// Regenerating invalidates the old link.
	newToken, newPassphrase, err := svc.GenerateAnonymousAccess(owner)
	require.NoError(t, err)
	_, err = svc.CheckAnonymousPassphrase(token, passphrase)
	assert.Error(t, err)
	_, err = svc.CheckAnonymousPassphrase(newToken, newPassphrase)
	assert.NoError(t, err)
}

func TestAnonymousAccessExpiry(t *testing.T) {
	svc, db, _ := newTestService(t)
	owner := model.Owner{OwnerKind: model.OwnerActive, OwnerID: 7}
	token, passphrase, err := svc.GenerateAnonymousAccess(owner)
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -181)
	require.NoError(t, db.Model(&model.AnonymousAccess{}).
		Where("url_token = ?", token).
		Update("creation_datetime", old).Error)

	_, err = svc.CheckAnonymousPassphrase(token, passphrase)
	var denial *Denial
	require.ErrorAs(t, err, &denial)
	assert.Contains(t, denial.Reason, "expired")
}
