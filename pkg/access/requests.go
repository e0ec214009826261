package access

import (
	"context"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// SubmitRequest files a contributor-review application. A user may
// hold at most one live application per project; a rejected or lapsed
// one may be refiled.
func (s *Service) SubmitRequest(userID, projectID uint, title, purpose string) (*model.DataAccessRequest, error) {
	var project model.PublishedProject
	if err := s.db.First(&project, projectID).Error; err != nil {
		return nil, err
	}
	if project.Metadata.AccessPolicy != model.AccessContributorReview {
		return nil, deny("this project does not take access requests")
	}

	var existing []model.DataAccessRequest
	err := s.db.Where("published_project_id = ? AND requester_id = ?", projectID, userID).
		Find(&existing).Error
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range existing {
		if existing[i].Status == model.RequestPending || existing[i].IsAccepted(now) {
			return nil, deny("a request is already pending or accepted")
		}
	}

	request := model.DataAccessRequest{
		PublishedProjectID: projectID,
		RequesterID:        userID,
		DataUseTitle:       title,
		DataUsePurpose:     purpose,
		Status:             model.RequestPending,
	}
	if err := s.db.Create(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// WithdrawRequest lets the applicant withdraw a pending application.
func (s *Service) WithdrawRequest(userID, requestID uint) error {
	var request model.DataAccessRequest
	if err := s.db.First(&request, requestID).Error; err != nil {
		return err
	}
	if request.RequesterID != userID {
		return deny("only the applicant may withdraw a request")
	}
	if request.Status != model.RequestPending {
		return deny("only a pending request can be withdrawn")
	}
	now := time.Now()
	return s.db.Model(&request).Updates(map[string]any{
		"status":            model.RequestWithdrawn,
		"decision_datetime": now,
	}).Error
}

// DecideRequest accepts or rejects a pending application. The decider
// must be an authorized reviewer of the project; durationDays bounds
// an accepted grant, nil meaning permanent.
func (s *Service) DecideRequest(ctx context.Context, deciderID, requestID uint, accept bool, comments string, durationDays *int) error {
	var request model.DataAccessRequest
	err := s.db.Preload("PublishedProject").Preload("Requester").First(&request, requestID).Error
	if err != nil {
		return err
	}
	if request.Status != model.RequestPending {
		return deny("request already decided")
	}

	authorized, err := s.IsReviewer(deciderID, request.PublishedProjectID)
	if err != nil {
		return err
	}
	if !authorized {
		return deny("not a reviewer of this project")
	}

	status := model.RequestRejected
	if accept {
		status = model.RequestAccepted
	}
	now := time.Now()
	updates := map[string]any{
		"status":             status,
		"responder_id":       deciderID,
		"responder_comments": comments,
		"decision_datetime":  now,
	}
	if accept {
		updates["duration_days"] = durationDays
	}
	if err := s.db.Model(&request).Updates(updates).Error; err != nil {
		return err
	}

	event := notify.Event{
		Kind:         notify.EventCredentialDecision,
		ProjectTitle: request.PublishedProject.Metadata.Title,
		ProjectSlug:  request.PublishedProject.Slug,
		Recipients:   []string{request.Requester.Email},
		Message:      comments,
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		klog.Errorf("notify access decision for request %d: %v", request.ID, err)
	}
	return nil
}

// IsReviewer reports whether a user may decide requests: the
// corresponding author of a self-managed project, or a delegated,
// unrevoked reviewer.
func (s *Service) IsReviewer(userID, projectID uint) (bool, error) {
	var project model.PublishedProject
	if err := s.db.First(&project, projectID).Error; err != nil {
		return false, err
	}
	if project.SelfManagedAccess {
		var corresponding int64
		err := s.db.Model(&model.PublishedAuthor{}).
			Where("published_project_id = ? AND user_id = ? AND is_corresponding = ?",
				projectID, userID, true).
			Count(&corresponding).Error
		if err != nil {
			return false, err
		}
		if corresponding > 0 {
			return true, nil
		}
	}

	var delegated int64
	err := s.db.Model(&model.DataAccessRequestReviewer{}).
		Where("published_project_id = ? AND reviewer_id = ? AND is_revoked = ?",
			projectID, userID, false).
		Count(&delegated).Error
	return delegated > 0, err
}

// AddReviewer delegates request review to another user.
func (s *Service) AddReviewer(projectID, reviewerID uint) error {
	var existing int64
	err := s.db.Model(&model.DataAccessRequestReviewer{}).
		Where("published_project_id = ? AND reviewer_id = ? AND is_revoked = ?",
			projectID, reviewerID, false).
		Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return deny("user is already a reviewer")
	}
	row := model.DataAccessRequestReviewer{
		PublishedProjectID: projectID,
		ReviewerID:         reviewerID,
		AddedDatetime:      time.Now(),
	}
	return s.db.Create(&row).Error
}

// RevokeReviewer withdraws a delegation. The row is kept with a
// revocation timestamp, never deleted.
func (s *Service) RevokeReviewer(projectID, reviewerID uint) error {
	var row model.DataAccessRequestReviewer
	err := s.db.Where("published_project_id = ? AND reviewer_id = ? AND is_revoked = ?",
		projectID, reviewerID, false).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return deny("user is not an active reviewer")
	}
	if err != nil {
		return err
	}
	now := time.Now()
	return s.db.Model(&row).Updates(map[string]any{
		"is_revoked":          true,
		"revocation_datetime": now,
	}).Error
}

// ListPendingRequests returns the open applications of a project.
func (s *Service) ListPendingRequests(projectID uint) ([]model.DataAccessRequest, error) {
	var requests []model.DataAccessRequest
	err := s.db.Preload("Requester").
		Where("published_project_id = ? AND status = ?", projectID, model.RequestPending).
		Order("id").Find(&requests).Error
	return requests, err
}
