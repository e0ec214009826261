package submission

import (
	"context"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/storage"
)

// NewVersion starts a new active draft from the latest published
// version of a core project. Metadata and the author list are copied
// from the published snapshot; the file tree is duplicated with
// hard links (or server-side copies) so unchanged files are not
// re-uploaded. The regenerable special files are not carried over.
func (s *Service) NewVersion(ctx context.Context, coreProjectID uint, version string) (*model.ActiveProject, error) {
	var latest model.PublishedProject
	err := s.db.Where("core_project_id = ? AND is_latest_version = ?", coreProjectID, true).
		First(&latest).Error
	if err != nil {
		return nil, err
	}

	var pending int64
	err = s.db.Model(&model.ActiveProject{}).
		Where("core_project_id = ?", coreProjectID).Count(&pending).Error
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, validationErr("a new version of this project is already in progress")
	}
	if version != "" && CompareVersions(version, latest.Version) <= 0 {
		return nil, validationErr("the new version must be greater than the latest published version")
	}

	now := time.Now()
	meta := latest.Metadata
	meta.Version = version
	if err := rewriteMetadataLinks(&meta,
		PublishedFileURL(latest.Slug, latest.Version), ActiveFileURL(latest.Slug)); err != nil {
		return nil, err
	}

	var project model.ActiveProject
	err = s.db.Transaction(func(tx *gorm.DB) error {
		project = model.ActiveProject{
			Metadata:         meta,
			SubmissionInfo:   model.SubmissionInfo{CreationDatetime: now},
			Slug:             latest.Slug,
			SubmissionStatus: model.StatusDraft,
		}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		to := model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID}
		from := model.Owner{OwnerKind: model.OwnerPublished, OwnerID: latest.ID}
		if err := s.copyAuthorsBack(tx, latest.ID, project.ID); err != nil {
			return err
		}
		if err := copyBibliography(tx, from, to); err != nil {
			return err
		}
		if err := copyTopicsBack(tx, latest.ID, project.ID); err != nil {
			return err
		}

		// The file copy runs last inside the transaction so a failure
		// rolls the draft rows back instead of leaving an empty draft.
		ignored := []string{
			storage.ChecksumFileName,
			storage.ListingFileName,
			latest.ZipName(),
		}
		dst := ActiveFileRoot(&project)
		if err := s.backend.CpDir(PublishedFileRoot(&latest), dst, ignored); err != nil {
			if rmErr := s.backend.RmDir(dst); rmErr != nil {
				klog.Errorf("new version of %s: clean partial copy: %v", latest.Slug, rmErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// copyTopicsBack restores editable keyword rows from the global tags
// the published version carries.
func copyTopicsBack(tx *gorm.DB, publishedProjectID, activeProjectID uint) error {
	var links []model.ProjectTopic
	err := tx.Preload("PublishedTopic").
		Where("published_project_id = ?", publishedProjectID).Find(&links).Error
	if err != nil {
		return err
	}
	for i := range links {
		row := model.Topic{
			Owner:       model.Owner{OwnerKind: model.OwnerActive, OwnerID: activeProjectID},
			Description: links[i].PublishedTopic.Description,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// copyAuthorsBack rebuilds the editable author list from the frozen
// published one. Publication approvals start over for the new version.
func (s *Service) copyAuthorsBack(tx *gorm.DB, publishedProjectID, activeProjectID uint) error {
	var authors []model.PublishedAuthor
	err := tx.Preload("Affiliations").
		Where("published_project_id = ?", publishedProjectID).
		Order("display_order").Find(&authors).Error
	if err != nil {
		return err
	}
	for i := range authors {
		pa := &authors[i]
		author := model.Author{
			Owner:              model.Owner{OwnerKind: model.OwnerActive, OwnerID: activeProjectID},
			UserID:             pa.UserID,
			DisplayOrder:       pa.DisplayOrder,
			IsSubmitting:       pa.IsSubmitting,
			IsCorresponding:    pa.IsCorresponding,
			CorrespondingEmail: pa.CorrespondingEmail,
		}
		if err := tx.Create(&author).Error; err != nil {
			return err
		}
		for _, aff := range pa.Affiliations {
			row := model.Affiliation{AuthorID: author.ID, Name: aff.Name}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
