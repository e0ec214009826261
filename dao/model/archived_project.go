package model

import (
	"fmt"

	"gorm.io/gorm"
)

// ArchivedProject is the terminal snapshot of an active project that
// was rejected, voluntarily deleted, or timed out. Immutable after
// creation.
type ArchivedProject struct {
	gorm.Model
	Metadata       Metadata       `gorm:"embedded"`
	SubmissionInfo SubmissionInfo `gorm:"embedded"`

	Slug             string           `gorm:"index;type:varchar(30);not null;comment:url identifier at archive time"`
	SubmissionStatus SubmissionStatus `gorm:"not null;comment:workflow state at archive time"`
	ArchiveReason    ArchiveReason    `gorm:"not null;comment:why the project was closed"`
}

// FileRoot returns the snapshot directory relative to the archive
// area. The id suffix keeps reused slugs from colliding.
func (p *ArchivedProject) FileRoot() string {
	return fmt.Sprintf("%s-%d", p.Slug, p.ID)
}
