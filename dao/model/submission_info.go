package model

import "time"

// SubmissionInfo holds the workflow timestamps and editor assignment
// shared by every lifecycle stage. Copied verbatim into the archived or
// published snapshot.
type SubmissionInfo struct {
	EditorID *uint `gorm:"comment:assigned editor"`

	CreationDatetime           time.Time  `gorm:"not null;comment:project creation"`
	SubmissionDatetime         *time.Time `gorm:"comment:first submission"`
	EditorAssignmentDatetime   *time.Time `gorm:"comment:editor assignment"`
	RevisionRequestDatetime    *time.Time `gorm:"comment:latest revision request"`
	ResubmissionDatetime       *time.Time `gorm:"comment:latest resubmission"`
	EditorAcceptDatetime       *time.Time `gorm:"comment:editor acceptance"`
	CopyeditCompletionDatetime *time.Time `gorm:"comment:copyedit completion"`
	AuthorApprovalDatetime     *time.Time `gorm:"comment:final author approval"`
}
