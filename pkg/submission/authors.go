package submission

import (
	"context"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// Author list operations. Invariants maintained here: display orders
// are 1-based and contiguous, exactly one author is submitting, and
// exactly one is corresponding. The author list is frozen while the
// project is under submission.

// InviteAuthor records an email invitation to join the author list.
// Outstanding invitations block submission until answered.
func (s *Service) InviteAuthor(ctx context.Context, projectID, inviterID uint, email string) (*model.AuthorInvitation, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return nil, err
	}
	if !project.AuthorEditable() {
		return nil, errState(project.SubmissionStatus, "invite author")
	}

	var existing int64
	err = s.db.Model(&model.AuthorInvitation{}).
		Where("active_project_id = ? AND email = ? AND response IS NULL", projectID, email).
		Count(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, validationErr("an invitation to this address is already outstanding")
	}

	var member int64
	err = s.db.Model(&model.Author{}).
		Joins("JOIN users ON users.id = authors.user_id").
		Where("authors.owner_kind = ? AND authors.owner_id = ? AND users.email = ?",
			model.OwnerActive, projectID, email).
		Count(&member).Error
	if err != nil {
		return nil, err
	}
	if member > 0 {
		return nil, validationErr("this address already belongs to an author")
	}

	invitation := model.AuthorInvitation{
		ActiveProjectID: projectID,
		Email:           email,
		InviterID:       inviterID,
	}
	if err := s.db.Create(&invitation).Error; err != nil {
		return nil, err
	}
	if err := s.notifier.Notify(ctx, notify.Event{
		Kind:         notify.EventAuthorInvited,
		ProjectTitle: project.Metadata.Title,
		ProjectSlug:  project.Slug,
		Recipients:   []string{email},
	}); err != nil {
		klog.Errorf("notify invitation for %s: %v", project.Slug, err)
	}
	return &invitation, nil
}

// RespondInvitation answers an outstanding invitation. Accepting
// appends the user at the end of the author list.
func (s *Service) RespondInvitation(ctx context.Context, invitationID, userID uint, accept bool) error {
	var invitation model.AuthorInvitation
	if err := s.db.First(&invitation, invitationID).Error; err != nil {
		return err
	}
	if !invitation.Outstanding() {
		return validationErr("invitation already answered")
	}

	var user model.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return err
	}
	if user.Email != invitation.Email {
		return validationErr("invitation was sent to a different address")
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		invitation.Response = &accept
		invitation.ResponseDatetime = &now
		if err := tx.Save(&invitation).Error; err != nil {
			return err
		}
		if !accept {
			return nil
		}

		var maxOrder int64
		err := tx.Model(&model.Author{}).
			Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, invitation.ActiveProjectID).
			Select("COALESCE(MAX(display_order), 0)").Scan(&maxOrder).Error
		if err != nil {
			return err
		}
		author := model.Author{
			Owner:        model.Owner{OwnerKind: model.OwnerActive, OwnerID: invitation.ActiveProjectID},
			UserID:       userID,
			DisplayOrder: int(maxOrder) + 1,
		}
		return tx.Create(&author).Error
	})
}

// RemoveAuthor deletes a non-submitting author and closes the order
// gap. The submitting author cannot be removed; transfer the role
// first. Removing the corresponding author moves the role to the
// submitting author.
func (s *Service) RemoveAuthor(projectID, authorID uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if !project.AuthorEditable() {
		return errState(project.SubmissionStatus, "remove author")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var author model.Author
		err := tx.Where("id = ? AND owner_kind = ? AND owner_id = ?",
			authorID, model.OwnerActive, projectID).First(&author).Error
		if err != nil {
			return err
		}
		if author.IsSubmitting {
			return validationErr("the submitting author cannot be removed")
		}

		if err := tx.Unscoped().Where("author_id = ?", author.ID).
			Delete(&model.Affiliation{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&author).Error; err != nil {
			return err
		}
		err = tx.Model(&model.Author{}).
			Where("owner_kind = ? AND owner_id = ? AND display_order > ?",
				model.OwnerActive, projectID, author.DisplayOrder).
			Update("display_order", gorm.Expr("display_order - 1")).Error
		if err != nil {
			return err
		}

		if author.IsCorresponding {
			return tx.Model(&model.Author{}).
				Where("owner_kind = ? AND owner_id = ? AND is_submitting = ?",
					model.OwnerActive, projectID, true).
				Update("is_corresponding", true).Error
		}
		return nil
	})
}

// ReorderAuthors applies a complete new display order. The slice must
// contain each current author id exactly once.
func (s *Service) ReorderAuthors(projectID uint, orderedIDs []uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if !project.AuthorEditable() {
		return errState(project.SubmissionStatus, "reorder authors")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var authors []model.Author
		err := tx.Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, projectID).
			Find(&authors).Error
		if err != nil {
			return err
		}
		if len(orderedIDs) != len(authors) {
			return validationErr("the new order must list every author exactly once")
		}
		present := make(map[uint]bool, len(authors))
		for i := range authors {
			present[authors[i].ID] = true
		}
		for _, id := range orderedIDs {
			if !present[id] {
				return validationErr("the new order must list every author exactly once")
			}
			delete(present, id)
		}
		for pos, id := range orderedIDs {
			err := tx.Model(&model.Author{}).Where("id = ?", id).
				Update("display_order", pos+1).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// TransferCorresponding moves the corresponding role to another
// author, keeping exactly one corresponding author at all times.
func (s *Service) TransferCorresponding(projectID, toAuthorID uint, email *string) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if !project.AuthorEditable() {
		return errState(project.SubmissionStatus, "transfer corresponding author")
	}
	return s.transferRole(projectID, toAuthorID, "is_corresponding", func(tx *gorm.DB) error {
		return tx.Model(&model.Author{}).Where("id = ?", toAuthorID).
			Update("corresponding_email", email).Error
	})
}

// TransferSubmitting moves the submitting role to another author. Only
// the submitting author drives submission and resubmission.
func (s *Service) TransferSubmitting(projectID, toAuthorID uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.UnderSubmission() {
		return errState(project.SubmissionStatus, "transfer submitting author")
	}
	return s.transferRole(projectID, toAuthorID, "is_submitting", nil)
}

func (s *Service) transferRole(projectID, toAuthorID uint, column string, extra func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var target model.Author
		err := tx.Where("id = ? AND owner_kind = ? AND owner_id = ?",
			toAuthorID, model.OwnerActive, projectID).First(&target).Error
		if err != nil {
			return err
		}
		err = tx.Model(&model.Author{}).
			Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, projectID).
			Update(column, false).Error
		if err != nil {
			return err
		}
		err = tx.Model(&model.Author{}).Where("id = ?", toAuthorID).
			Update(column, true).Error
		if err != nil {
			return err
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

// SetAffiliations replaces an author's institution lines. At most
// three are kept, in the given order.
func (s *Service) SetAffiliations(projectID, authorID uint, names []string) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if !project.AuthorEditable() {
		return errState(project.SubmissionStatus, "edit affiliations")
	}
	if len(names) > 3 {
		return validationErr("an author may list at most three affiliations")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var author model.Author
		err := tx.Where("id = ? AND owner_kind = ? AND owner_id = ?",
			authorID, model.OwnerActive, projectID).First(&author).Error
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Where("author_id = ?", author.ID).
			Delete(&model.Affiliation{}).Error; err != nil {
			return err
		}
		for _, name := range names {
			row := model.Affiliation{AuthorID: author.ID, Name: name}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
