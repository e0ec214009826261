package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/doi"
	"github.com/mit-lcp/physionet-server/pkg/metrics"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// CreateProject builds a new draft with its core project, the creator
// as submitting and corresponding author, and an empty file tree.
func (s *Service) CreateProject(ctx context.Context, creator *model.User, meta model.Metadata) (*model.ActiveProject, error) {
	now := time.Now()
	var project model.ActiveProject
	err := s.db.Transaction(func(tx *gorm.DB) error {
		core := model.CoreProject{
			StorageAllowance: model.StorageAllowanceMin,
			InodeAllowance:   model.InodeAllowanceDefault,
		}
		if err := tx.Create(&core).Error; err != nil {
			return err
		}
		meta.CoreProjectID = core.ID

		project = model.ActiveProject{
			Metadata: meta,
			SubmissionInfo: model.SubmissionInfo{
				CreationDatetime: now,
			},
			Slug:             newSlug(),
			SubmissionStatus: model.StatusDraft,
		}
		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		author := model.Author{
			Owner:           model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
			UserID:          creator.ID,
			DisplayOrder:    1,
			IsSubmitting:    true,
			IsCorresponding: true,
		}
		return tx.Create(&author).Error
	})
	if err != nil {
		return nil, err
	}
	if err := s.backend.MkDir(ActiveFileRoot(&project)); err != nil {
		klog.Errorf("create project %s: file root: %v", project.Slug, err)
	}
	return &project, nil
}

func newSlug() string {
	return uuid.NewString()[:13]
}

// Submit moves a draft into the editorial queue. The project must not
// already be under submission and must pass the integrity check.
func (s *Service) Submit(ctx context.Context, projectID uint, authorComments string) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.UnderSubmission() {
		return validationErr("project is already under submission")
	}
	if err := s.integrityBlocks(project); err != nil {
		return err
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"submission_status":   model.StatusAwaitingEditor,
			"submission_datetime": now,
			"author_comments":     authorComments,
		}
		if err := tx.Model(project).Updates(updates).Error; err != nil {
			return err
		}
		log := model.EditLog{
			Owner:          model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
			AuthorComments: authorComments,
		}
		return tx.Create(&log).Error
	})
	if err != nil {
		return err
	}

	metrics.SubmissionsTotal.Inc()
	s.fire(ctx, notify.EventSubmit, project, "", authorComments)
	return nil
}

// AssignEditor places a submission with an editor.
func (s *Service) AssignEditor(ctx context.Context, projectID, editorID uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionStatus != model.StatusAwaitingEditor {
		return errState(project.SubmissionStatus, "assign editor")
	}

	var editor model.User
	if err := s.db.First(&editor, editorID).Error; err != nil {
		return err
	}
	if !editor.CanEdit() {
		return validationErr(fmt.Sprintf("user %s cannot be assigned as editor", editor.Username))
	}

	now := time.Now()
	return s.db.Model(project).Updates(map[string]any{
		"submission_status":          model.StatusUnderReview,
		"editor_id":                  editor.ID,
		"editor_assignment_datetime": now,
	}).Error
}

// ReassignEditor hands a submission to a different editor without
// touching the state machine.
func (s *Service) ReassignEditor(ctx context.Context, projectID, editorID uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionInfo.EditorID == nil {
		return validationErr("project has no editor to reassign")
	}

	var editor model.User
	if err := s.db.First(&editor, editorID).Error; err != nil {
		return err
	}
	if !editor.CanEdit() {
		return validationErr(fmt.Sprintf("user %s cannot be assigned as editor", editor.Username))
	}
	return s.db.Model(project).Update("editor_id", editor.ID).Error
}

// Decision carries an editorial decision form. QualityAssurance maps
// directly onto the pending edit log fields.
type Decision struct {
	Decision       model.EditDecision
	EditorComments string
	AutoDOI        bool

	SoundlyProduced     *bool
	WellDescribed       *bool
	OpenFormat          *bool
	DataMachineReadable *bool
	Reusable            *bool
	NoPHI               *bool
	PNSuitable          *bool
	EthicsIncluded      *bool
}

func (d *Decision) applyTo(log *model.EditLog) {
	log.SoundlyProduced = d.SoundlyProduced
	log.WellDescribed = d.WellDescribed
	log.OpenFormat = d.OpenFormat
	log.DataMachineReadable = d.DataMachineReadable
	log.Reusable = d.Reusable
	log.NoPHI = d.NoPHI
	log.PNSuitable = d.PNSuitable
	log.EthicsIncluded = d.EthicsIncluded
	log.EditorComments = d.EditorComments
	log.AutoDOI = d.AutoDOI
}

// EditorDecision records the decision on the pending edit log and
// advances the state machine. Acceptance demands a fully affirmative
// quality-assurance checklist; the state machine never reaches the
// accepted state with an incomplete set.
func (s *Service) EditorDecision(ctx context.Context, projectID uint, decision Decision) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionStatus != model.StatusUnderReview {
		return errState(project.SubmissionStatus, "editor decision")
	}

	var log model.EditLog
	err = s.db.Where("owner_kind = ? AND owner_id = ? AND decision IS NULL",
		model.OwnerActive, project.ID).
		Order("id DESC").First(&log).Error
	if err != nil {
		return validationErr("no pending review cycle")
	}

	decision.applyTo(&log)
	if decision.Decision == model.DecisionAccept &&
		!log.QualityAssuranceComplete(project.Metadata.ResourceType) {
		return validationErr("the quality assurance checklist must be fully affirmative to accept")
	}

	now := time.Now()
	d := decision.Decision
	log.Decision = &d
	log.DecisionDatetime = &now

	switch decision.Decision {
	case model.DecisionReject:
		// The decision rides the archive transaction so a failed
		// archive leaves the review cycle pending and decidable.
		_, err := s.archiveProject(project, model.ArchiveRejected, func(tx *gorm.DB) error {
			return tx.Save(&log).Error
		})
		if err != nil {
			return err
		}
	case model.DecisionRevise:
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(&log).Error; err != nil {
				return err
			}
			return tx.Model(project).Updates(map[string]any{
				"submission_status":         model.StatusRevisionRequired,
				"revision_request_datetime": now,
			}).Error
		})
		if err != nil {
			return err
		}
	case model.DecisionAccept:
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Save(&log).Error; err != nil {
				return err
			}
			if err := tx.Model(project).Updates(map[string]any{
				"submission_status":      model.StatusUnderCopyedit,
				"editor_accept_datetime": now,
			}).Error; err != nil {
				return err
			}
			copyedit := model.CopyeditLog{
				Owner: model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
			}
			return tx.Create(&copyedit).Error
		})
		if err != nil {
			return err
		}
		if decision.AutoDOI && s.flags.EnableAutoDOI {
			s.registerCoreDOI(ctx, project)
		}
	default:
		return validationErr("unknown decision")
	}

	s.fire(ctx, notify.EventEditDecision, project, decision.Decision.String(), decision.EditorComments)
	return nil
}

// registerCoreDOI is best effort at accept time; a failure is logged
// and retried through the task queue rather than failing the decision.
func (s *Service) registerCoreDOI(ctx context.Context, project *model.ActiveProject) {
	var core model.CoreProject
	if err := s.db.First(&core, project.Metadata.CoreProjectID).Error; err != nil {
		klog.Errorf("auto doi: load core project %d: %v", project.Metadata.CoreProjectID, err)
		return
	}
	if core.DOI != nil {
		return
	}
	payload := doi.Payload{
		Titles:          []doi.Title{{Title: project.Metadata.Title}},
		Publisher:       s.siteName,
		PublicationYear: time.Now().Year(),
		Types:           doi.ResourceType{ResourceTypeGeneral: "Dataset"},
	}
	if _, err := s.registrar.RegisterCoreDOI(ctx, core.ID, payload); err != nil {
		klog.Errorf("auto doi: register for core project %d: %v", core.ID, err)
		if _, qerr := s.queue.Enqueue(model.TaskKindDOIUpdate, map[string]any{
			"coreProjectID": core.ID,
		}); qerr != nil {
			klog.Errorf("auto doi: enqueue retry: %v", qerr)
		}
	}
}

// Resubmit returns a revised project to the editor.
func (s *Service) Resubmit(ctx context.Context, projectID uint, authorComments string) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionStatus != model.StatusRevisionRequired {
		return errState(project.SubmissionStatus, "resubmit")
	}
	if err := s.integrityBlocks(project); err != nil {
		return err
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(project).Updates(map[string]any{
			"submission_status":     model.StatusUnderReview,
			"resubmission_datetime": now,
			"author_comments":       authorComments,
		}).Error; err != nil {
			return err
		}
		log := model.EditLog{
			Owner:          model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
			IsResubmission: true,
			AuthorComments: authorComments,
		}
		return tx.Create(&log).Error
	})
	if err != nil {
		return err
	}

	metrics.SubmissionsTotal.Inc()
	s.fire(ctx, notify.EventResubmit, project, "", authorComments)
	return nil
}

// CompleteCopyedit closes the open copyedit round and hands the
// project to the authors for approval.
func (s *Service) CompleteCopyedit(ctx context.Context, projectID uint, madeChanges bool, changelog string) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionStatus != model.StatusUnderCopyedit {
		return errState(project.SubmissionStatus, "complete copyedit")
	}

	var log model.CopyeditLog
	err = s.db.Where("owner_kind = ? AND owner_id = ? AND complete_datetime IS NULL",
		model.OwnerActive, project.ID).
		Order("id DESC").First(&log).Error
	if err != nil {
		return validationErr("no open copyedit round")
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		log.MadeChanges = &madeChanges
		log.ChangelogSummary = changelog
		log.CompleteDatetime = &now
		if err := tx.Save(&log).Error; err != nil {
			return err
		}
		return tx.Model(project).Updates(map[string]any{
			"submission_status":            model.StatusAwaitingApproval,
			"copyedit_completion_datetime": now,
		}).Error
	})
	if err != nil {
		return err
	}

	s.fire(ctx, notify.EventCopyeditComplete, project, "", changelog)
	return nil
}

// ReopenCopyedit returns an awaiting-approval project to copyedit.
// Every author approval is reset; all must be collected again.
func (s *Service) ReopenCopyedit(ctx context.Context, projectID uint) error {
	project, err := s.loadActive(projectID)
	if err != nil {
		return err
	}
	if project.SubmissionStatus != model.StatusAwaitingApproval {
		return errState(project.SubmissionStatus, "reopen copyedit")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(project).Updates(map[string]any{
			"submission_status":            model.StatusUnderCopyedit,
			"copyedit_completion_datetime": nil,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Author{}).
			Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, project.ID).
			Update("approval_datetime", nil).Error; err != nil {
			return err
		}
		log := model.CopyeditLog{
			Owner:    model.Owner{OwnerKind: model.OwnerActive, OwnerID: project.ID},
			IsReedit: true,
		}
		return tx.Create(&log).Error
	})
	if err != nil {
		return err
	}

	s.fire(ctx, notify.EventReopenCopyedit, project, "", "")
	return nil
}

// ApproveAuthor records one author's publication approval. Approving
// twice is a no-op, not an error; the return reports whether this call
// changed anything. When the last outstanding author approves, the
// project advances to awaiting publication.
func (s *Service) ApproveAuthor(ctx context.Context, projectID, authorID uint) (bool, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return false, err
	}
	if project.SubmissionStatus != model.StatusAwaitingApproval {
		return false, errState(project.SubmissionStatus, "approve author")
	}

	var author model.Author
	err = s.db.Where("id = ? AND owner_kind = ? AND owner_id = ?",
		authorID, model.OwnerActive, project.ID).First(&author).Error
	if err != nil {
		return false, err
	}
	if author.Approved() {
		return false, nil
	}

	now := time.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&author).Update("approval_datetime", now).Error; err != nil {
			return err
		}
		var outstanding int64
		if err := tx.Model(&model.Author{}).
			Where("owner_kind = ? AND owner_id = ? AND approval_datetime IS NULL",
				model.OwnerActive, project.ID).
			Count(&outstanding).Error; err != nil {
			return err
		}
		if outstanding == 0 {
			return tx.Model(project).Updates(map[string]any{
				"submission_status":        model.StatusAwaitingPublish,
				"author_approval_datetime": now,
			}).Error
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.fire(ctx, notify.EventAuthorApproved, project, "", "")
	return true, nil
}

// AllAuthorsApproved reports whether no approval is outstanding.
func (s *Service) AllAuthorsApproved(projectID uint) (bool, error) {
	var outstanding int64
	err := s.db.Model(&model.Author{}).
		Where("owner_kind = ? AND owner_id = ? AND approval_datetime IS NULL",
			model.OwnerActive, projectID).
		Count(&outstanding).Error
	return outstanding == 0, err
}

// IsPublishable reports whether the project can be published right
// now: final state, clean integrity check, every author approved.
func (s *Service) IsPublishable(project *model.ActiveProject) (bool, error) {
	if project.SubmissionStatus != model.StatusAwaitingPublish {
		return false, nil
	}
	problems, err := s.CheckIntegrity(project)
	if err != nil {
		return false, err
	}
	if len(problems) > 0 {
		return false, nil
	}
	return s.AllAuthorsApproved(project.ID)
}

func errState(status model.SubmissionStatus, operation string) error {
	return fmt.Errorf("%w: cannot %s while %q", ErrInvalidTransition,
		operation, model.SubmissionStatusLabel(status))
}

func (s *Service) fire(ctx context.Context, kind notify.EventKind, project *model.ActiveProject, actor, message string) {
	event := notify.Event{
		Kind:         kind,
		ProjectTitle: project.Metadata.Title,
		ProjectSlug:  project.Slug,
		ActorName:    actor,
		Recipients:   s.authorEmails(project.ID),
		Message:      message,
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		klog.Errorf("notify %s for %s: %v", kind, project.Slug, err)
	}
}
