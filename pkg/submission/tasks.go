package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/doi"
	"github.com/mit-lcp/physionet-server/pkg/storage"
)

// RegisterTaskHandlers wires the deferred workflow steps onto the task
// queue. host is the public base URL used in DOI records.
func (s *Service) RegisterTaskHandlers(host string) {
	s.queue.Register(model.TaskKindPostPublishFiles, func(ctx context.Context, task *model.Task) error {
		return s.handlePostPublishFiles(ctx, task, host)
	})
	s.queue.Register(model.TaskKindDOIUpdate, func(ctx context.Context, task *model.Task) error {
		return s.handleDOIUpdate(ctx, task, host)
	})
}

// handlePostPublishFiles finalizes a published file tree: license
// copy, checksum manifest, listing, optional zip, permission locking,
// and the storage-size bookkeeping. Every step regenerates its output,
// so a retried task converges instead of duplicating.
func (s *Service) handlePostPublishFiles(ctx context.Context, task *model.Task, host string) error {
	var payload PostPublishPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return err
	}
	var project model.PublishedProject
	if err := s.db.First(&project, payload.PublishedProjectID).Error; err != nil {
		return err
	}
	root := PublishedFileRoot(&project)

	if project.Metadata.LicenseID != nil {
		var license model.License
		if err := s.db.First(&license, *project.Metadata.LicenseID).Error; err != nil {
			return err
		}
		if err := s.backend.FWrite(root+"/"+storage.LicenseFileName, []byte(license.Text)); err != nil {
			return err
		}
	}
	if err := storage.MakeChecksumFile(s.backend, root); err != nil {
		return err
	}
	if err := storage.MakeFileListing(s.backend, root); err != nil {
		return err
	}

	// The zip lives beside the version directory, not inside it, so
	// the checksum manifest and listing stay stable across re-runs.
	zipPath := fmt.Sprintf("%s/%s/%s", PublishedArea, project.Slug, project.ZipName())
	if payload.MakeZip {
		prefix := fmt.Sprintf("%s-%s", project.Slug, project.Version)
		if err := storage.MakeZip(ctx, s.backend, root, zipPath, prefix); err != nil {
			return err
		}
	}
	if err := s.backend.MakeReadOnly(root); err != nil {
		return err
	}

	var mainSize, zipSize int64
	err := s.backend.Walk(root, func(_ string, info storage.FileInfo) error {
		mainSize += info.Size
		return nil
	})
	if err != nil {
		return err
	}
	if payload.MakeZip {
		entries, err := s.backend.ListDir(PublishedArea + "/" + project.Slug)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name == project.ZipName() {
				zipSize = e.Size
			}
		}
	}
	// Incremental size approximates the bytes new in this version:
	// prior versions' trees are hard-link copies, so growth over the
	// previous version is what this one actually added.
	incremental := mainSize
	var prior model.PublishedProject
	err = s.db.Where("core_project_id = ? AND id <> ?", project.Metadata.CoreProjectID, project.ID).
		Order("version_order DESC").First(&prior).Error
	if err == nil && mainSize > prior.MainStorageSize {
		incremental = mainSize - prior.MainStorageSize
	} else if err == nil {
		incremental = 0
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	err = s.db.Model(&project).Updates(map[string]any{
		"main_storage_size":        mainSize,
		"compressed_storage_size":  zipSize,
		"incremental_storage_size": incremental,
		"has_zip":                  payload.MakeZip,
	}).Error
	if err != nil {
		return err
	}

	if s.flags.EnableAutoDOI && s.registrar != nil {
		s.registerProjectDOI(ctx, &project, host)
	}
	return nil
}

// registerProjectDOI mints the version DOI after publication. Failure
// is retried through a separate task rather than failing the file
// finalization that already completed.
func (s *Service) registerProjectDOI(ctx context.Context, project *model.PublishedProject, host string) {
	if project.DOI != nil {
		return
	}
	payload, err := s.buildProjectPayload(project, host)
	if err != nil {
		klog.Errorf("auto doi: build payload for %s: %v", project.Slug, err)
		return
	}
	if _, err := s.registrar.RegisterProjectDOI(ctx, project.ID, payload); err != nil &&
		!errors.Is(err, doi.ErrAlreadyRegistered) {
		klog.Errorf("auto doi: register for %s v%s: %v", project.Slug, project.Version, err)
		if _, qerr := s.queue.Enqueue(model.TaskKindDOIUpdate, map[string]any{
			"publishedProjectID": project.ID,
		}); qerr != nil {
			klog.Errorf("auto doi: enqueue retry: %v", qerr)
		}
	}
}

func (s *Service) buildProjectPayload(project *model.PublishedProject, host string) (doi.Payload, error) {
	var authors []model.PublishedAuthor
	err := s.db.Where("published_project_id = ?", project.ID).
		Order("display_order").Find(&authors).Error
	if err != nil {
		return doi.Payload{}, err
	}
	var core model.CoreProject
	if err := s.db.First(&core, project.Metadata.CoreProjectID).Error; err != nil {
		return doi.Payload{}, err
	}
	var siblings []model.PublishedProject
	err = s.db.Where("core_project_id = ? AND id <> ?", core.ID, project.ID).
		Find(&siblings).Error
	if err != nil {
		return doi.Payload{}, err
	}
	url := fmt.Sprintf("%s/content/%s/%s/", host, project.Slug, project.Version)
	return doi.BuildProjectPayload(project, authors, core.DOI, siblings, s.siteName, url), nil
}

// doiUpdatePayload accepts either target; exactly one id is set.
type doiUpdatePayload struct {
	CoreProjectID      uint `json:"coreProjectID"`
	PublishedProjectID uint `json:"publishedProjectID"`
}

// handleDOIUpdate retries a failed DOI registration. Already
// registered targets succeed without a remote call, so redelivery is
// harmless.
func (s *Service) handleDOIUpdate(ctx context.Context, task *model.Task, host string) error {
	if s.registrar == nil {
		return nil
	}
	var payload doiUpdatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return err
	}

	if payload.PublishedProjectID != 0 {
		var project model.PublishedProject
		if err := s.db.First(&project, payload.PublishedProjectID).Error; err != nil {
			return err
		}
		if project.DOI != nil && *project.DOI != model.DOIPending {
			return nil
		}
		p, err := s.buildProjectPayload(&project, host)
		if err != nil {
			return err
		}
		_, err = s.registrar.RegisterProjectDOI(ctx, project.ID, p)
		if errors.Is(err, doi.ErrAlreadyRegistered) {
			return nil
		}
		return err
	}

	var core model.CoreProject
	if err := s.db.First(&core, payload.CoreProjectID).Error; err != nil {
		return err
	}
	if core.DOI != nil && *core.DOI != model.DOIPending {
		return nil
	}
	p, err := s.buildCorePayload(&core, host)
	if err != nil {
		return err
	}
	_, err = s.registrar.RegisterCoreDOI(ctx, core.ID, p)
	if errors.Is(err, doi.ErrAlreadyRegistered) {
		return nil
	}
	return err
}

// buildCorePayload assembles the DOI record of the whole version
// chain, reading metadata from the latest published version or, before
// first publication, the active project.
func (s *Service) buildCorePayload(core *model.CoreProject, host string) (doi.Payload, error) {
	var latest model.PublishedProject
	err := s.db.Where("core_project_id = ? AND is_latest_version = ?", core.ID, true).
		First(&latest).Error
	if err == nil {
		p, err := s.buildProjectPayload(&latest, host)
		if err != nil {
			return doi.Payload{}, err
		}
		p.RelatedIdentifiers = nil
		p.Version = ""
		p.URL = fmt.Sprintf("%s/content/%s/", host, latest.Slug)
		return p, nil
	}
	if err != gorm.ErrRecordNotFound {
		return doi.Payload{}, err
	}

	var project model.ActiveProject
	err = s.db.Where("core_project_id = ?", core.ID).First(&project).Error
	if err != nil {
		return doi.Payload{}, err
	}
	authors, err := s.activeAuthors(project.ID)
	if err != nil {
		return doi.Payload{}, err
	}
	creators := make([]doi.Creator, 0, len(authors))
	for i := range authors {
		u := authors[i].User
		creators = append(creators, doi.Creator{
			Name:       u.LastName + ", " + u.FirstNames,
			GivenName:  u.FirstNames,
			FamilyName: u.LastName,
		})
	}
	general := "Dataset"
	switch project.Metadata.ResourceType {
	case model.ResourceSoftware, model.ResourceModel:
		general = "Software"
	}
	return doi.Payload{
		Creators:        creators,
		Titles:          []doi.Title{{Title: project.Metadata.Title}},
		Publisher:       s.siteName,
		PublicationYear: time.Now().Year(),
		Types:           doi.ResourceType{ResourceTypeGeneral: general},
	}, nil
}
