// Constants mapped to database columns. Gin rejects zero values for
// fields tagged required, so enums that travel through request bindings
// start at iota + 1 unless the zero value is meaningful on the wire
// (SubmissionStatus keeps the original numeric codes).
package model

// User role in the platform
type Role uint8

const (
	RoleGuest Role = iota + 1
	RoleUser
	RoleEditor
	RoleAdmin
)

// ResourceType determines the required metadata fields and the
// quality-assurance checklist applied during editorial review.
type ResourceType uint8

const (
	ResourceDatabase ResourceType = iota + 1
	ResourceSoftware
	ResourceChallenge
	ResourceModel
)

func (r ResourceType) String() string {
	switch r {
	case ResourceDatabase:
		return "Database"
	case ResourceSoftware:
		return "Software"
	case ResourceChallenge:
		return "Challenge"
	case ResourceModel:
		return "Model"
	default:
		return "Unknown"
	}
}

// AccessPolicy is ordered from least to most restrictive.
type AccessPolicy uint8

const (
	AccessOpen AccessPolicy = iota + 1
	AccessRestricted
	AccessCredentialed
	AccessContributorReview
)

func (p AccessPolicy) String() string {
	switch p {
	case AccessOpen:
		return "Open"
	case AccessRestricted:
		return "Restricted"
	case AccessCredentialed:
		return "Credentialed"
	case AccessContributorReview:
		return "Contributor Review"
	default:
		return "Unknown"
	}
}

// SubmissionStatus keeps the numeric codes of the review workflow. The
// gaps leave room for intermediate states without renumbering.
type SubmissionStatus int

const (
	StatusDraft            SubmissionStatus = 0  // author-editable, not yet submitted
	StatusAwaitingEditor   SubmissionStatus = 10 // submitted, waiting for editor assignment
	StatusUnderReview      SubmissionStatus = 20 // waiting for editor decision
	StatusRevisionRequired SubmissionStatus = 30 // returned to authors for revision
	StatusUnderCopyedit    SubmissionStatus = 40 // accepted, copyedit in progress
	StatusAwaitingApproval SubmissionStatus = 50 // waiting for author approval
	StatusAwaitingPublish  SubmissionStatus = 60 // approved, waiting for editor to publish
)

// SubmissionStatusLabel returns the display string for a status code.
func SubmissionStatusLabel(s SubmissionStatus) string {
	switch s {
	case StatusDraft:
		return "Not submitted"
	case StatusAwaitingEditor:
		return "Awaiting editor assignment"
	case StatusUnderReview:
		return "Awaiting editor decision"
	case StatusRevisionRequired:
		return "Revisions requested"
	case StatusUnderCopyedit:
		return "Submission accepted; awaiting editor copyedits"
	case StatusAwaitingApproval:
		return "Awaiting authors to approve publication"
	case StatusAwaitingPublish:
		return "Awaiting editor to publish"
	default:
		return "Unknown"
	}
}

// UnderSubmission reports whether a status counts as an open submission
// (anything past draft).
func (s SubmissionStatus) UnderSubmission() bool {
	return s > StatusDraft
}

// UnderReview reports whether the project is with the editorial team
// rather than the authors.
func (s SubmissionStatus) UnderReview() bool {
	return s.UnderSubmission() && s != StatusRevisionRequired
}

// AuthorEditable reports whether authors may modify content and files.
func (s SubmissionStatus) AuthorEditable() bool {
	return s == StatusDraft || s == StatusRevisionRequired
}

// EditDecision is the outcome of one editorial review cycle.
type EditDecision int

const (
	DecisionReject EditDecision = 0
	DecisionRevise EditDecision = 1
	DecisionAccept EditDecision = 2
)

func (d EditDecision) String() string {
	switch d {
	case DecisionReject:
		return "Reject"
	case DecisionRevise:
		return "Resubmit with revisions"
	case DecisionAccept:
		return "Accept"
	default:
		return "Unknown"
	}
}

// ArchiveReason records why an active project was closed out.
type ArchiveReason uint8

const (
	ArchiveVoluntary ArchiveReason = iota + 1
	ArchiveTimeout
	ArchiveRejected
	ArchiveOther
)

func (r ArchiveReason) String() string {
	switch r {
	case ArchiveVoluntary:
		return "Voluntary delete"
	case ArchiveTimeout:
		return "Submission timed out"
	case ArchiveRejected:
		return "Rejected"
	case ArchiveOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// OwnerKind tags which lifecycle entity a shared row belongs to.
// Re-parenting during archive or publish is a bulk update of the
// (owner_kind, owner_id) pair, never a copy.
type OwnerKind uint8

const (
	OwnerActive OwnerKind = iota + 1
	OwnerArchived
	OwnerPublished
)

// Owner is embedded by every row attached to a lifecycle entity.
type Owner struct {
	OwnerKind OwnerKind `gorm:"not null;index:,composite:owner;comment:lifecycle entity kind (active, archived, published)"`
	OwnerID   uint      `gorm:"not null;index:,composite:owner;comment:lifecycle entity id"`
}

// AccessRequestStatus follows the numeric codes of the data access
// request workflow.
type AccessRequestStatus int

const (
	RequestPending   AccessRequestStatus = 0
	RequestRejected  AccessRequestStatus = 1
	RequestWithdrawn AccessRequestStatus = 2
	RequestAccepted  AccessRequestStatus = 3
)

func (s AccessRequestStatus) String() string {
	switch s {
	case RequestPending:
		return "Pending"
	case RequestRejected:
		return "Rejected"
	case RequestWithdrawn:
		return "Withdrawn"
	case RequestAccepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

// Storage allowance bounds for a core project, in bytes.
const (
	StorageAllowanceMin int64 = 100 * 1024 * 1024
	StorageAllowanceMax int64 = 10 * 1024 * 1024 * 1024 * 1024
)

// InodeAllowanceDefault caps the file and directory count of a core
// project. Zero means unlimited.
const InodeAllowanceDefault int64 = 100000
