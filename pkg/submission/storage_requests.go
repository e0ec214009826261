package submission

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/notify"
)

// RequestStorage files an allowance-change request for a core project.
// Only one request may be pending at a time; an outstanding request
// blocks submission until a responder answers it.
func (s *Service) RequestStorage(projectID, requesterID uint, requestBytes int64) (*model.StorageRequest, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return nil, err
	}
	if requestBytes < model.StorageAllowanceMin || requestBytes > model.StorageAllowanceMax {
		return nil, validationErr(fmt.Sprintf("requested allowance must be between %d and %d bytes",
			model.StorageAllowanceMin, model.StorageAllowanceMax))
	}

	var pending int64
	err = s.db.Model(&model.StorageRequest{}).
		Where("core_project_id = ? AND response IS NULL", project.Metadata.CoreProjectID).
		Count(&pending).Error
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, validationErr("a storage request is already pending")
	}

	request := model.StorageRequest{
		CoreProjectID: project.Metadata.CoreProjectID,
		RequestBytes:  requestBytes,
		RequesterID:   requesterID,
	}
	if err := s.db.Create(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// RespondStorage answers a pending storage request. Granting updates
// the core project allowance inside the same transaction.
func (s *Service) RespondStorage(ctx context.Context, requestID, responderID uint, grant bool, text string) error {
	var request model.StorageRequest
	if err := s.db.First(&request, requestID).Error; err != nil {
		return err
	}
	if !request.Pending() {
		return validationErr("storage request already answered")
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&request).Updates(map[string]any{
			"responder_id":  responderID,
			"response":      grant,
			"response_text": text,
		}).Error
		if err != nil {
			return err
		}
		if !grant {
			return nil
		}
		return tx.Model(&model.CoreProject{}).Where("id = ?", request.CoreProjectID).
			Update("storage_allowance", request.RequestBytes).Error
	})
	if err != nil {
		return err
	}

	var project model.ActiveProject
	if err := s.db.Where("core_project_id = ?", request.CoreProjectID).First(&project).Error; err == nil {
		decision := "denied"
		if grant {
			decision = "granted"
		}
		s.fire(ctx, notify.EventStorageResponse, &project, decision, text)
	}
	return nil
}

// StorageInfo is the usage card shown on console views. Used counts
// the active tree plus the published bytes of prior versions, so a new
// version is not charged twice for unchanged files it links to.
type StorageInfo struct {
	Allowance      int64 `json:"allowance"`
	PublishedBytes int64 `json:"publishedBytes"`
	UsedBytes      int64 `json:"usedBytes"`
	Inodes         int64 `json:"inodes"`
}

func (s *Service) StorageInfo(projectID uint) (*StorageInfo, error) {
	project, err := s.loadActive(projectID)
	if err != nil {
		return nil, err
	}
	var core model.CoreProject
	if err := s.db.First(&core, project.Metadata.CoreProjectID).Error; err != nil {
		return nil, err
	}

	var published int64
	err = s.db.Model(&model.PublishedProject{}).
		Where("core_project_id = ?", core.ID).
		Select("COALESCE(SUM(incremental_storage_size), 0)").Scan(&published).Error
	if err != nil {
		return nil, err
	}

	bytes, inodes, err := s.backend.TreeSize(ActiveFileRoot(project))
	if err != nil {
		klog.Errorf("storage info for %s: tree size: %v", project.Slug, err)
	}
	return &StorageInfo{
		Allowance:      core.StorageAllowance,
		PublishedBytes: published,
		UsedBytes:      bytes + published,
		Inodes:         inodes,
	}, nil
}
