// Package submission implements the project review workflow: the
// draft-to-publication state machine, integrity checks, editorial
// decisions, the copyedit cycle, author approval, and the atomic
// publish and archive conversions.
package submission

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mit-lcp/physionet-server/dao/model"
	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/doi"
	"github.com/mit-lcp/physionet-server/pkg/notify"
	"github.com/mit-lcp/physionet-server/pkg/storage"
	"github.com/mit-lcp/physionet-server/pkg/taskqueue"
)

// Storage area prefixes. A project tree is owned by exactly one
// lifecycle entity; conversion moves it between areas.
const (
	ActiveArea    = "active-projects"
	ArchivedArea  = "archived-projects"
	PublishedArea = "published-projects"
)

// Service executes workflow operations. Feature switches arrive as an
// explicit flags value, never read from ambient globals, so the state
// machine stays unit-testable.
type Service struct {
	db        *gorm.DB
	backend   storage.Backend
	notifier  notify.Notifier
	queue     *taskqueue.Queue
	registrar *doi.Registrar
	flags     config.Flags
	siteName  string
}

func NewService(
	db *gorm.DB,
	backend storage.Backend,
	notifier notify.Notifier,
	queue *taskqueue.Queue,
	registrar *doi.Registrar,
	flags config.Flags,
	siteName string,
) *Service {
	return &Service{
		db:        db,
		backend:   backend,
		notifier:  notifier,
		queue:     queue,
		registrar: registrar,
		flags:     flags,
		siteName:  siteName,
	}
}

// ActiveFileRoot returns the storage path of an active project tree.
func ActiveFileRoot(p *model.ActiveProject) string {
	return ActiveArea + "/" + p.FileRoot()
}

// ArchivedFileRoot returns the storage path of an archived snapshot.
func ArchivedFileRoot(p *model.ArchivedProject) string {
	return ArchivedArea + "/" + p.FileRoot()
}

// PublishedFileRoot returns the storage path of a published tree.
func PublishedFileRoot(p *model.PublishedProject) string {
	return PublishedArea + "/" + p.FileRoot()
}

// ActiveFileURL is the serving prefix of active project files, the
// form internal links use before publication.
func ActiveFileURL(slug string) string {
	return fmt.Sprintf("/project/%s/files/", slug)
}

// PublishedFileURL is the serving prefix after publication.
func PublishedFileURL(slug, version string) string {
	return fmt.Sprintf("/files/%s/%s/", slug, version)
}

func (s *Service) loadActive(id uint) (*model.ActiveProject, error) {
	var project model.ActiveProject
	if err := s.db.First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *Service) activeAuthors(projectID uint) ([]model.Author, error) {
	var authors []model.Author
	err := s.db.Preload("User").Preload("Affiliations").
		Where("owner_kind = ? AND owner_id = ?", model.OwnerActive, projectID).
		Order("display_order").
		Find(&authors).Error
	return authors, err
}

// authorEmails resolves notification recipients from the author list.
func (s *Service) authorEmails(projectID uint) []string {
	authors, err := s.activeAuthors(projectID)
	if err != nil {
		return nil
	}
	emails := make([]string, 0, len(authors))
	for i := range authors {
		emails = append(emails, authors[i].User.Email)
	}
	return emails
}
