package submission

import (
	"fmt"
	"strings"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// CheckIntegrity verifies a project is internally complete enough to
// submit or publish. Problems accumulate as a list, never as an error;
// the caller decides whether a non-empty list blocks the step. The
// result replaces the stored list for display.
func (s *Service) CheckIntegrity(project *model.ActiveProject) ([]string, error) {
	var problems []string

	var outstandingInvitations int64
	if err := s.db.Model(&model.AuthorInvitation{}).
		Where("active_project_id = ? AND response IS NULL", project.ID).
		Count(&outstandingInvitations).Error; err != nil {
		return nil, err
	}
	if outstandingInvitations > 0 {
		problems = append(problems,
			fmt.Sprintf("%d author invitation(s) awaiting response", outstandingInvitations))
	}

	var outstandingStorage int64
	if err := s.db.Model(&model.StorageRequest{}).
		Where("core_project_id = ? AND response IS NULL", project.Metadata.CoreProjectID).
		Count(&outstandingStorage).Error; err != nil {
		return nil, err
	}
	if outstandingStorage > 0 {
		problems = append(problems, "storage request awaiting response")
	}

	authors, err := s.activeAuthors(project.ID)
	if err != nil {
		return nil, err
	}
	for i := range authors {
		a := &authors[i]
		if a.User.FirstNames == "" || a.User.LastName == "" {
			problems = append(problems,
				fmt.Sprintf("author %s has not set their profile name", a.User.Username))
		}
		if len(a.Affiliations) == 0 {
			problems = append(problems,
				fmt.Sprintf("author %s has no affiliation", a.User.FullName()))
		}
	}

	for _, field := range project.Metadata.MissingRequiredFields() {
		problems = append(problems, fmt.Sprintf("missing required field: %s", field))
	}

	if project.Metadata.EthicsStatement == "" {
		problems = append(problems, "missing ethics statement")
	}

	if project.Metadata.AccessPolicy != model.AccessOpen && project.Metadata.DUAID == nil {
		problems = append(problems, "a data use agreement is required for non-open access")
	}

	// A version clash with a published sibling blocks submission, but
	// stays a soft check rather than a database constraint.
	if project.Metadata.Version != "" {
		var clash int64
		if err := s.db.Model(&model.PublishedProject{}).
			Where("core_project_id = ? AND version = ?",
				project.Metadata.CoreProjectID, project.Metadata.Version).
			Count(&clash).Error; err != nil {
			return nil, err
		}
		if clash > 0 {
			problems = append(problems,
				fmt.Sprintf("version %s is already published for this project", project.Metadata.Version))
		}
	}

	if err := s.storeIntegrityErrors(project.ID, problems); err != nil {
		return nil, err
	}
	return problems, nil
}

func (s *Service) storeIntegrityErrors(projectID uint, problems []string) error {
	if err := s.db.Unscoped().
		Where("active_project_id = ?", projectID).
		Delete(&model.IntegrityError{}).Error; err != nil {
		return err
	}
	for _, p := range problems {
		row := model.IntegrityError{ActiveProjectID: projectID, Message: p}
		if err := s.db.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// integrityBlocks runs the check and converts a non-empty problem list
// into a ValidationError for operations that require a clean project.
func (s *Service) integrityBlocks(project *model.ActiveProject) error {
	problems, err := s.CheckIntegrity(project)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &ValidationError{Reasons: problems}
	}
	return nil
}

// IntegritySummary formats the stored problem list for display.
func IntegritySummary(problems []string) string {
	if len(problems) == 0 {
		return "All checks passed"
	}
	return strings.Join(problems, "\n")
}
