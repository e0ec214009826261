package submission

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// UpdateMetadata replaces the descriptive fields of an author-editable
// project. Identity fields (core project, resource type) never change;
// license and agreement selections must be compatible with the chosen
// access policy.
func (s *Service) UpdateMetadata(projectID uint, meta model.Metadata) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if !project.AuthorEditable() {
		return errState(project.SubmissionStatus, "edit metadata")
	}

	meta.CoreProjectID = project.Metadata.CoreProjectID
	meta.ResourceType = project.Metadata.ResourceType

	if meta.LicenseID != nil {
		var license model.License
		if err := s.db.First(&license, *meta.LicenseID).Error; err != nil {
			return err
		}
		if !licenseCompatible(&license, meta.AccessPolicy, meta.ResourceType) {
			return validationErr("the selected license is not valid for this access policy and resource type")
		}
	}
	if meta.DUAID != nil {
		var dua model.DUA
		if err := s.db.First(&dua, *meta.DUAID).Error; err != nil {
			return err
		}
		if dua.AccessPolicy != meta.AccessPolicy {
			return validationErr("the selected data use agreement is not valid for this access policy")
		}
	}

	project.Metadata = meta
	return s.db.Save(project).Error
}

// licenseCompatible enforces the catalog rule: exact access-policy
// match, and the resource type must be on the license's allowed list.
func licenseCompatible(license *model.License, policy model.AccessPolicy, rt model.ResourceType) bool {
	if license.AccessPolicy != policy {
		return false
	}
	if license.ResourceTypes == "" {
		return true
	}
	codes := strings.Split(license.ResourceTypes, ",")
	return lo.Contains(codes, fmt.Sprintf("%d", rt))
}

// SelectableLicenses lists the catalog rows a project may choose from.
func (s *Service) SelectableLicenses(policy model.AccessPolicy, rt model.ResourceType) ([]model.License, error) {
	var licenses []model.License
	err := s.db.Where("access_policy = ?", policy).Order("name").Find(&licenses).Error
	if err != nil {
		return nil, err
	}
	return lo.Filter(licenses, func(l model.License, _ int) bool {
		return licenseCompatible(&l, policy, rt)
	}), nil
}

// SelectableDUAs lists the agreements valid for an access policy.
func (s *Service) SelectableDUAs(policy model.AccessPolicy) ([]model.DUA, error) {
	var duas []model.DUA
	err := s.db.Where("access_policy = ?", policy).Order("name").Find(&duas).Error
	return duas, err
}
