package submission

import (
	"context"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/metrics"
)

// Archive converts an active project into a terminal archived
// snapshot. Every related row moves with it; the active row disappears
// in the same transaction. Voluntary deletes drop the file tree,
// everything else moves it to the archive area.
func (s *Service) Archive(ctx context.Context, projectID uint, reason model.ArchiveReason) (*model.ArchivedProject, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return nil, err
	}
	if reason == model.ArchiveVoluntary && project.UnderSubmission() {
		return nil, validationErr("a project under submission cannot be voluntarily deleted")
	}
	return s.archiveProject(project, reason, nil)
}

// archiveProject runs the snapshot transaction. inTx, when non-nil,
// executes first inside the same transaction so callers can commit
// their own rows (a rejection's edit log) atomically with the archive.
func (s *Service) archiveProject(project *model.ActiveProject, reason model.ArchiveReason, inTx func(tx *gorm.DB) error) (*model.ArchivedProject, error) {
	var undo []func()
	archived := model.ArchivedProject{
		Metadata:         project.Metadata,
		SubmissionInfo:   project.SubmissionInfo,
		Slug:             project.Slug,
		SubmissionStatus: project.SubmissionStatus,
		ArchiveReason:    reason,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if inTx != nil {
			if err := inTx(tx); err != nil {
				return err
			}
		}
		if err := tx.Create(&archived).Error; err != nil {
			return err
		}

		from := model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID}
		to := model.Owner{OwnerKind: model.OwnerArchived, OwnerID: archived.ID}
		if err := reparentAll(tx, from, to); err != nil {
			return err
		}

		if err := tx.Unscoped().Where("active_project_id = ?", project.ID).
			Delete(&model.IntegrityError{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(project).Error; err != nil {
			return err
		}

		// File side effects happen last so a database failure above
		// never leaves a half-moved tree.
		src := ActiveFileRoot(project)
		if reason == model.ArchiveVoluntary {
			if err := s.backend.RmDir(src); err != nil {
				return err
			}
			return nil
		}
		dst := ArchivedFileRoot(&archived)
		if err := s.backend.Mv(src, dst); err != nil {
			return err
		}
		undo = append(undo, func() {
			if err := s.backend.Mv(dst, src); err != nil {
				klog.Errorf("archive rollback: move %s back: %v", dst, err)
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

	metrics.ArchivesTotal.Inc()
	return &archived, nil
}

// Reject is sugar for archiving with the rejected reason.
func (s *Service) Reject(ctx context.Context, projectID uint) (*model.ArchivedProject, error) {
	return s.Archive(ctx, projectID, model.ArchiveRejected)
}
