package submission

import (
	"strings"

	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// Post-publication maintenance. Scientific content of a published
// project never changes; only operational metadata does.

// DeprecateFiles marks a published version deprecated, optionally
// removing its file tree. The database row and its DOI remain.
func (s *Service) DeprecateFiles(projectID uint, deleteFiles bool) error {
	var project model.PublishedProject
	if err := s.db.First(&project, projectID).Error; err != nil {
		return err
	}
	if project.Deprecated {
		return validationErr("project is already deprecated")
	}

	updates := map[string]any{"deprecated": true}
	if deleteFiles {
		if err := s.backend.RmDir(PublishedFileRoot(&project)); err != nil {
			return err
		}
		updates["main_storage_size"] = 0
		updates["compressed_storage_size"] = 0
		updates["has_zip"] = false
	}
	return s.db.Model(&project).Updates(updates).Error
}

// SetPublishedTopics replaces the tag set of a published project,
// maintaining the global per-tag project counts. Tags left with a zero
// count stay in the catalog for reuse.
func (s *Service) SetPublishedTopics(projectID uint, topics []string) error {
	var project model.PublishedProject
	if err := s.db.First(&project, projectID).Error; err != nil {
		return err
	}

	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		desc := strings.ToLower(strings.TrimSpace(t))
		if desc != "" {
			wanted[desc] = true
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var links []model.ProjectTopic
		err := tx.Preload("PublishedTopic").
			Where("published_project_id = ?", project.ID).Find(&links).Error
		if err != nil {
			return err
		}

		current := make(map[string]bool, len(links))
		for i := range links {
			link := &links[i]
			desc := link.PublishedTopic.Description
			if wanted[desc] {
				current[desc] = true
				continue
			}
			if err := tx.Unscoped().Delete(link).Error; err != nil {
				return err
			}
			err = tx.Model(&model.PublishedTopic{}).
				Where("id = ? AND project_count > 0", link.PublishedTopicID).
				Update("project_count", gorm.Expr("project_count - 1")).Error
			if err != nil {
				return err
			}
		}

		for desc := range wanted {
			if current[desc] {
				continue
			}
			var tag model.PublishedTopic
			err := tx.Where("description = ?", desc).First(&tag).Error
			if err == gorm.ErrRecordNotFound {
				tag = model.PublishedTopic{Description: desc}
				if err := tx.Create(&tag).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			link := model.ProjectTopic{PublishedProjectID: project.ID, PublishedTopicID: tag.ID}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
			err = tx.Model(&tag).Update("project_count", gorm.Expr("project_count + 1")).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
