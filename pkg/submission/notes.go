package submission

import (
	"github.com/mit-lcp/physionet-server/dao/model"
)

// Internal notes are editor-only annotations on an active project.
// Authors never see them; access control lives at the handler layer.

func (s *Service) AddNote(projectID, authorID uint, content string) (*model.InternalNote, error) {
	if _, err := s.loadActive(projectID); err != nil {
		return nil, err
	}
	note := model.InternalNote{
		ActiveProjectID: projectID,
		AuthorID:        authorID,
		Content:         content,
	}
	if err := s.db.Create(&note).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Service) UpdateNote(noteID, authorID uint, content string) error {
	var note model.InternalNote
	if err := s.db.First(&note, noteID).Error; err != nil {
		return err
	}
	if note.AuthorID != authorID {
		return validationErr("only the note's author may edit it")
	}
	return s.db.Model(&note).Update("content", content).Error
}

func (s *Service) DeleteNote(noteID, authorID uint) error {
	var note model.InternalNote
	if err := s.db.First(&note, noteID).Error; err != nil {
		return err
	}
	if note.AuthorID != authorID {
		return validationErr("only the note's author may delete it")
	}
	return s.db.Delete(&note).Error
}

func (s *Service) ListNotes(projectID uint) ([]model.InternalNote, error) {
	var notes []model.InternalNote
	err := s.db.Preload("Author").
		Where("active_project_id = ?", projectID).
		Order("id").Find(&notes).Error
	return notes, err
}
