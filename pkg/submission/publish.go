package submission

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/metrics"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// PublishOptions tune the publish conversion. Zero values mean: keep
// the active slug (or the chain slug), keep the title, build a zip per
// the configured default, no embargo.
type PublishOptions struct {
	Slug        string
	Title       string
	MakeZip     *bool
	EmbargoDays int
}

// PostPublishPayload is the task payload of the deferred file
// finalization.
type PostPublishPayload struct {
	PublishedProjectID uint `json:"publishedProjectID"`
	MakeZip            bool `json:"makeZip"`
}

// Publish atomically converts an active project into a published one:
// metadata snapshot, link rewriting, deep copies of the bibliographic
// rows, log re-parenting, version-chain ordering, and the file-tree
// ownership transfer. Any failure rolls back both the database changes
// and the file moves, leaving the active project untouched. The slow
// file work (checksums, locking, zip) runs afterwards in a background
// task.
func (s *Service) Publish(ctx context.Context, projectID uint, opts PublishOptions) (*model.PublishedProject, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return nil, err
	}
	publishable, err := s.IsPublishable(project)
	if err != nil {
		return nil, err
	}
	if !publishable {
		return nil, validationErr("project is not publishable")
	}

	slug, err := s.resolveSlug(project, opts.Slug)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	makeZip := s.flags.MakeZip
	if opts.MakeZip != nil {
		makeZip = *opts.MakeZip
	}

	published := model.PublishedProject{
		Metadata:         project.Metadata,
		SubmissionInfo:   project.SubmissionInfo,
		Slug:             slug,
		Version:          project.Metadata.Version,
		PublishDatetime:  now,
		EmbargoFilesDays: opts.EmbargoDays,
		IsLatestVersion:  true,
	}
	if opts.Title != "" {
		published.Metadata.Title = opts.Title
	}

	var undo []func()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Link rewriting mutates the snapshot only, inside the same
		// transaction as the copy.
		oldPrefix := ActiveFileURL(project.Slug)
		newPrefix := PublishedFileURL(slug, published.Version)
		if err := rewriteMetadataLinks(&published.Metadata, oldPrefix, newPrefix); err != nil {
			return err
		}

		if err := tx.Create(&published).Error; err != nil {
			return err
		}

		from := model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID}
		to := model.Owner{OwnerKind: model.OwnerPublished, OwnerID: published.ID}

		if err := s.copyAuthors(tx, project, &published); err != nil {
			return err
		}
		if err := copyBibliography(tx, from, to); err != nil {
			return err
		}
		if err := mergeTopics(tx, from, published.ID); err != nil {
			return err
		}
		if err := reparentLogs(tx, from, to); err != nil {
			return err
		}
		if err := SetVersionOrder(tx, project.Metadata.CoreProjectID); err != nil {
			return err
		}

		if err := deleteOwned(tx, from); err != nil {
			return err
		}
		if err := tx.Unscoped().Where("active_project_id = ?", project.ID).
			Delete(&model.IntegrityError{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(project).Error; err != nil {
			return err
		}

		// The file tree changes owner last; on failure the move is
		// undone before the database rollback returns.
		src := ActiveFileRoot(project)
		dst := PublishedFileRoot(&published)
		if err := s.backend.Mv(src, dst); err != nil {
			return err
		}
		undo = append(undo, func() {
			if err := s.backend.Mv(dst, src); err != nil {
				klog.Errorf("publish rollback: move %s back: %v", dst, err)
			}
		})
		return nil
	})
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}

	if _, err := s.queue.Enqueue(model.TaskKindPostPublishFiles, PostPublishPayload{
		PublishedProjectID: published.ID,
		MakeZip:            makeZip,
	}); err != nil {
		klog.Errorf("publish %s: enqueue file finalization: %v", slug, err)
	}

	metrics.PublishesTotal.Inc()
	event := notify.Event{
		Kind:         notify.EventPublish,
		ProjectTitle: published.Metadata.Title,
		ProjectSlug:  slug,
		Recipients:   s.publishedAuthorEmails(published.ID),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		klog.Errorf("notify publish for %s: %v", slug, err)
	}
	return &published, nil
}

// resolveSlug enforces slug immutability within a version chain: once
// a core project has a published version, every later version reuses
// its slug, and a conflicting explicit slug aborts.
func (s *Service) resolveSlug(project *model.ActiveProject, requested string) (string, error) {
	var prior model.PublishedProject
	err := s.db.Where("core_project_id = ?", project.Metadata.CoreProjectID).
		Order("id").First(&prior).Error
	switch {
	case err == nil:
		if requested != "" && requested != prior.Slug {
			return "", validationErr("slug cannot change within a version chain")
		}
		return prior.Slug, nil
	case err == gorm.ErrRecordNotFound:
		if requested != "" {
			return requested, nil
		}
		return project.Slug, nil
	default:
		return "", err
	}
}

// copyAuthors freezes the author list: published author rows, frozen
// affiliations, and the contact record of the corresponding author
// with names taken from the profile at this instant.
func (s *Service) copyAuthors(tx *gorm.DB, project *model.ActiveProject, published *model.PublishedProject) error {
	var authors []model.Author
	err := tx.Preload("User").Preload("Affiliations").
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
		Order("display_order").
		Find(&authors).Error
	if err != nil {
		return err
	}

	for i := range authors {
		a := &authors[i]
		pa := model.PublishedAuthor{
			PublishedProjectID: published.ID,
			UserID:             a.UserID,
			FirstNames:         a.User.FirstNames,
			LastName:           a.User.LastName,
			DisplayOrder:       a.DisplayOrder,
			IsSubmitting:       a.IsSubmitting,
			IsCorresponding:    a.IsCorresponding,
			CorrespondingEmail: a.CorrespondingEmail,
		}
		if err := tx.Create(&pa).Error; err != nil {
			return err
		}
		for _, aff := range a.Affiliations {
			row := model.PublishedAffiliation{PublishedAuthorID: pa.ID, Name: aff.Name}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		if a.IsCorresponding {
			email := a.User.Email
			if a.CorrespondingEmail != nil {
				email = *a.CorrespondingEmail
			}
			names := make([]string, 0, len(a.Affiliations))
			for _, aff := range a.Affiliations {
				names = append(names, aff.Name)
			}
			contact := model.Contact{
				PublishedProjectID: published.ID,
				Name:               a.User.FullName(),
				Affiliations:       strings.Join(names, "; "),
				Email:              email,
			}
			if err := tx.Create(&contact).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// copyBibliography deep-copies references, publications, parent links,
// languages, and required trainings onto the published entity. The
// active rows are deleted with the project afterwards.
func copyBibliography(tx *gorm.DB, from, to model.Owner) error {
	var refs []model.Reference
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&refs).Error; err != nil {
		return err
	}
	for i := range refs {
		row := model.Reference{Owner: to, Description: refs[i].Description, Order: refs[i].Order}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	var pubs []model.Publication
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&pubs).Error; err != nil {
		return err
	}
	for i := range pubs {
		row := model.Publication{Owner: to, Citation: pubs[i].Citation, URL: pubs[i].URL}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	var parents []model.ParentProject
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&parents).Error; err != nil {
		return err
	}
	for i := range parents {
		row := model.ParentProject{Owner: to, ParentCoreProjectID: parents[i].ParentCoreProjectID}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	var langs []model.ProjectLanguage
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&langs).Error; err != nil {
		return err
	}
	for i := range langs {
		row := model.ProjectLanguage{Owner: to, ProgrammingLanguageID: langs[i].ProgrammingLanguageID}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	var trainings []model.RequiredTraining
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&trainings).Error; err != nil {
		return err
	}
	for i := range trainings {
		row := model.RequiredTraining{Owner: to, TrainingTypeID: trainings[i].TrainingTypeID}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// mergeTopics folds the project's keywords into the global published
// tag table, incrementing each tag's project count.
func mergeTopics(tx *gorm.DB, from model.Owner, publishedProjectID uint) error {
	var topics []model.Topic
	if err := tx.Where("owner_kind = ? AND owner_id = ?", from.OwnerKind, from.OwnerID).
		Find(&topics).Error; err != nil {
		return err
	}
	for i := range topics {
		desc := strings.ToLower(strings.TrimSpace(topics[i].Description))
		if desc == "" {
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
		link := model.ProjectTopic{PublishedProjectID: publishedProjectID, PublishedTopicID: tag.ID}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
		if err := tx.Model(&tag).Update("project_count", gorm.Expr("project_count + 1")).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publishedAuthorEmails(publishedProjectID uint) []string {
	var emails []string
	err := s.db.Model(&model.PublishedAuthor{}).
		Joins("JOIN users ON users.id = published_authors.user_id").
		Where("published_authors.published_project_id = ?", publishedProjectID).
		Pluck("users.email", &emails).Error
	if err != nil {
		return nil
	}
	return emails
}
