package model

import "gorm.io/gorm"

// ActiveProject is the mutable project under authoring and review.
// Exactly one exists per core project at a time; it is converted into
// a published or archived snapshot, never kept alongside one.
type ActiveProject struct {
	gorm.Model
	Metadata       Metadata       `gorm:"embedded"`
	SubmissionInfo SubmissionInfo `gorm:"embedded"`

	Slug             string           `gorm:"uniqueIndex;type:varchar(30);not null;comment:url identifier"`
	SubmissionStatus SubmissionStatus `gorm:"not null;default:0;comment:workflow state code"`

	// AuthorComments carries the cover letter of the latest submission
	// or resubmission.
	AuthorComments string `gorm:"type:text;comment:latest submission comments"`

	// IntegrityErrors is refreshed by every integrity check and kept
	// for display; an empty list means the last check passed.
	IntegrityErrors []IntegrityError `gorm:"foreignKey:ActiveProjectID"`
}

// UnderSubmission reports whether the project has an open submission.
func (p *ActiveProject) UnderSubmission() bool {
	return p.SubmissionStatus.UnderSubmission()
}

// AuthorEditable reports whether authors may modify the project.
func (p *ActiveProject) AuthorEditable() bool {
	return p.SubmissionStatus.AuthorEditable()
}

// FileRoot returns the project directory relative to the active area.
func (p *ActiveProject) FileRoot() string {
	return p.Slug
}

// IntegrityError is one stored result row of the last integrity check.
type IntegrityError struct {
	gorm.Model
	ActiveProjectID uint   `gorm:"not null;index;comment:checked project"`
	Message         string `gorm:"type:varchar(500);not null;comment:human readable reason"`
}

// InternalNote is an editor-only annotation on an active project.
type InternalNote struct {
	gorm.Model
	ActiveProjectID uint   `gorm:"not null;index;comment:annotated project"`
	AuthorID        uint   `gorm:"not null;comment:editor who wrote the note"`
	Author          User   `gorm:"foreignKey:AuthorID"`
	Content         string `gorm:"type:text;not null;comment:note body"`
}
