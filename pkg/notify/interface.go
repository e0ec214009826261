// Package notify delivers workflow notifications. The workflow fires
// named events; delivery is email, with a log-only fallback for
// development. Message wording lives with the delivery layer, not the
// state machine.
package notify

import "context"

// EventKind names one workflow notification.
type EventKind string

const (
	EventSubmit             EventKind = "submit"
	EventResubmit           EventKind = "resubmit"
	EventEditDecision       EventKind = "edit_decision"
	EventCopyeditComplete   EventKind = "copyedit_complete"
	EventReopenCopyedit     EventKind = "reopen_copyedit"
	EventAuthorApproved     EventKind = "author_approved"
	EventAuthorInvited      EventKind = "author_invited"
	EventPublish            EventKind = "publish"
	EventStorageResponse    EventKind = "storage_response"
	EventAccessDecision     EventKind = "access_decision"
	EventCredentialDecision EventKind = "credential_decision"
	EventDeadlineReminder   EventKind = "deadline_reminder"
)

// Event carries the project and actor a notification is about.
type Event struct {
	Kind         EventKind
	ProjectTitle string
	ProjectSlug  string
	ActorName    string
	// Recipients are resolved by the caller; the notifier does not
	// query the author list itself.
	Recipients []string
	// Message is the optional free-text portion (editor comments,
	// decision summary).
	Message string
}

// Notifier is the delivery surface the workflow depends on.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	// NotifyAdmins reports an operational failure (exhausted task
	// retries, registrar errors) to the administrator address.
	NotifyAdmins(ctx context.Context, subject, body string) error
}
