package doi

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"github.com/mit-lcp/physionet-server/dao/model"
)

// ErrAlreadyRegistered is returned when the target already holds a DOI
// or another caller's registration is in flight.
var ErrAlreadyRegistered = errors.New("doi: already has a pending or assigned DOI")

// Registrar coordinates remote registration with the pending sentinel
// on the DOI column.
type Registrar struct {
	db     *gorm.DB
	client Client
}

func NewRegistrar(db *gorm.DB, client Client) *Registrar {
	return &Registrar{db: db, client: client}
}

// register claims the DOI column of one row, performs the remote call,
// and either stores the assigned DOI or rolls the sentinel back so a
// retry stays possible. The claim is a conditional update; exactly one
// of any set of concurrent callers wins it.
func (r *Registrar) register(ctx context.Context, table string, id uint, payload Payload) (string, error) {
	claim := r.db.Table(table).
		Where("id = ? AND doi IS NULL", id).
		Update("doi", model.DOIPending)
	if claim.Error != nil {
		return "", claim.Error
	}
	if claim.RowsAffected == 0 {
		return "", ErrAlreadyRegistered
	}

	doi, err := r.client.CreateDOI(ctx, payload)
	if err != nil {
		if rbErr := r.db.Table(table).Where("id = ?", id).
			Update("doi", nil).Error; rbErr != nil {
			klog.Errorf("doi: failed to clear pending sentinel on %s %d: %v", table, id, rbErr)
		}
		return "", err
	}

	if err := r.db.Table(table).Where("id = ?", id).Update("doi", doi).Error; err != nil {
		return "", err
	}
	return doi, nil
}

// RegisterCoreDOI registers the resource-level DOI of a core project.
func (r *Registrar) RegisterCoreDOI(ctx context.Context, coreProjectID uint, payload Payload) (string, error) {
	return r.register(ctx, "core_projects", coreProjectID, payload)
}

// RegisterProjectDOI registers the version DOI of a published project.
func (r *Registrar) RegisterProjectDOI(ctx context.Context, publishedProjectID uint, payload Payload) (string, error) {
	return r.register(ctx, "published_projects", publishedProjectID, payload)
}

// UpdateProjectDOI pushes refreshed metadata for an assigned DOI.
func (r *Registrar) UpdateProjectDOI(ctx context.Context, doi string, payload Payload) error {
	return r.client.UpdateDOI(ctx, doi, payload)
}
