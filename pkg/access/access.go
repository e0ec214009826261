// Package access decides who may read the files of a published
// project and manages the grant machinery behind the non-open
// policies: agreement signatures, credentialing with training
// requirements, contributor-review applications, and passphrase-gated
// anonymous reviewer links.
package access

import (
	"time"

	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// Service evaluates and manages access grants.
type Service struct {
	db       *gorm.DB
	notifier notify.Notifier
	// anonymousTTL bounds how long a reviewer link stays valid after
	// generation, independent of use.
	anonymousTTL time.Duration
}

func NewService(db *gorm.DB, notifier notify.Notifier, anonymousTTLDays int) *Service {
	if anonymousTTLDays <= 0 {
		anonymousTTLDays = 180
	}
	return &Service{
		db:           db,
		notifier:     notifier,
		anonymousTTL: time.Duration(anonymousTTLDays) * 24 * time.Hour,
	}
}

// Denial explains a failed access check with the condition the user
// can act on.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string {
	return "access denied: " + d.Reason
}

func deny(reason string) *Denial {
	return &Denial{Reason: reason}
}

// CanAccessFiles evaluates the project policy against the user's
// grants. The returned error, when non-nil, is a Denial naming the
// missing condition.
func (s *Service) CanAccessFiles(user *model.User, project *model.PublishedProject) error {
	if project.Deprecated {
		return deny("this project has been deprecated")
	}
	if project.EmbargoActive(time.Now()) {
		return deny("the files of this project are under embargo")
	}

	switch project.Metadata.AccessPolicy {
	case model.AccessOpen:
		return nil
	case model.AccessRestricted:
		return s.checkRestricted(user, project)
	case model.AccessCredentialed:
		return s.checkCredentialed(user, project)
	case model.AccessContributorReview:
		return s.checkContributorReview(user, project)
	default:
		return deny("unknown access policy")
	}
}

func (s *Service) checkRestricted(user *model.User, project *model.PublishedProject) error {
	if user == nil {
		return deny("sign in to access restricted data")
	}
	signed, err := s.hasSignedDUA(user.ID, project.ID)
	if err != nil {
		return err
	}
	if !signed {
		return deny("the data use agreement must be signed first")
	}
	return nil
}

func (s *Service) checkCredentialed(user *model.User, project *model.PublishedProject) error {
	if user == nil {
		return deny("sign in to access credentialed data")
	}
	if !user.IsCredentialed {
		return deny("a credentialed account is required")
	}
	if err := s.checkTrainings(user, project); err != nil {
		return err
	}
	signed, err := s.hasSignedDUA(user.ID, project.ID)
	if err != nil {
		return err
	}
	if !signed {
		return deny("the data use agreement must be signed first")
	}
	return nil
}

func (s *Service) checkContributorReview(user *model.User, project *model.PublishedProject) error {
	if user == nil {
		return deny("sign in to request access")
	}
	if !user.IsCredentialed {
		return deny("a credentialed account is required")
	}
	if err := s.checkTrainings(user, project); err != nil {
		return err
	}

	var requests []model.DataAccessRequest
	err := s.db.Where("published_project_id = ? AND requester_id = ?", project.ID, user.ID).
		Find(&requests).Error
	if err != nil {
		return err
	}
	now := time.Now()
	for i := range requests {
		if requests[i].IsAccepted(now) {
			return nil
		}
	}
	return deny("an accepted data access request is required")
}

// checkTrainings verifies every required training has a valid,
// unexpired completion record.
func (s *Service) checkTrainings(user *model.User, project *model.PublishedProject) error {
	var required []model.RequiredTraining
	err := s.db.Preload("TrainingType").
		Where("owner_kind = ? AND owner_id = ?", model.OwnerPublished, project.ID).
		Find(&required).Error
	if err != nil {
		return err
	}
	if len(required) == 0 {
		return nil
	}

	var records []model.TrainingRecord
	err = s.db.Where("user_id = ?", user.ID).Find(&records).Error
	if err != nil {
		return err
	}
	now := time.Now()
	valid := make(map[uint]bool, len(records))
	for i := range records {
		if records[i].Valid(now) {
			valid[records[i].TrainingTypeID] = true
		}
	}
	for i := range required {
		if !valid[required[i].TrainingTypeID] {
			return deny("training required: " + required[i].TrainingType.Name)
		}
	}
	return nil
}

func (s *Service) hasSignedDUA(userID, projectID uint) (bool, error) {
	var count int64
	err := s.db.Model(&model.DUASignature{}).
		Where("published_project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	return count > 0, err
}

// SignDUA records the user's signature. Signing twice is a no-op.
func (s *Service) SignDUA(userID, projectID uint) error {
	var project model.PublishedProject
	if err := s.db.First(&project, projectID).Error; err != nil {
		return err
	}
	if project.Metadata.AccessPolicy == model.AccessOpen {
		return deny("open projects have no agreement to sign")
	}

	signed, err := s.hasSignedDUA(userID, projectID)
	if err != nil || signed {
		return err
	}
	signature := model.DUASignature{
		PublishedProjectID: projectID,
		UserID:             userID,
		SignDatetime:       time.Now(),
	}
	return s.db.Create(&signature).Error
}
