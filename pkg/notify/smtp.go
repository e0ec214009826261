package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/mit-lcp/physionet-server/pkg/config"
	"github.com/mit-lcp/physionet-server/pkg/logutils"
)

// subjects maps each event to its mail subject template.
var subjects = map[EventKind]string{
	EventSubmit:             "Submission received: %s",
	EventResubmit:           "Resubmission received: %s",
	EventEditDecision:       "Editorial decision: %s",
	EventCopyeditComplete:   "Copyedit complete: %s",
	EventReopenCopyedit:     "Copyedit reopened: %s",
	EventAuthorApproved:     "Author approval: %s",
	EventAuthorInvited:      "Invitation to co-author: %s",
	EventPublish:            "Published: %s",
	EventStorageResponse:    "Storage request decision: %s",
	EventAccessDecision:     "Data access request decision: %s",
	EventCredentialDecision: "Data access request decision: %s",
	EventDeadlineReminder:   "Submission deadline approaching: %s",
}

// SMTPNotifier delivers events by email.
type SMTPNotifier struct {
	dialer *gomail.Dialer
	from   string
	admin  string
}

func NewSMTPNotifier(cfg *config.Config) *SMTPNotifier {
	return &SMTPNotifier{
		dialer: gomail.NewDialer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass),
		from:   cfg.SMTP.From,
		admin:  cfg.SMTP.Notify,
	}
}

func (n *SMTPNotifier) Notify(_ context.Context, event Event) error {
	if len(event.Recipients) == 0 {
		logutils.Log.Warnf("notification %s for %s has no recipients", event.Kind, event.ProjectSlug)
		return nil
	}

	subject := fmt.Sprintf(subjects[event.Kind], event.ProjectTitle)
	body := fmt.Sprintf("Project: %s (%s)\nActor: %s\n\n%s",
		event.ProjectTitle, event.ProjectSlug, event.ActorName, event.Message)

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", event.Recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		logutils.Log.Errorf("Failed to send %s notification for %s: %v", event.Kind, event.ProjectSlug, err)
		return err
	}
	logutils.Log.Infof("Sent %s notification for %s", event.Kind, event.ProjectSlug)
	return nil
}

func (n *SMTPNotifier) NotifyAdmins(_ context.Context, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.admin)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		logutils.Log.Errorf("Failed to send admin notification %q: %v", subject, err)
		return err
	}
	return nil
}

// LogNotifier records events without delivering anything. Used in
// debug mode and tests.
type LogNotifier struct {
	Events        []Event
	AdminSubjects []string
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.Events = append(n.Events, event)
	logutils.Log.Infof("notify %s: %s", event.Kind, event.ProjectSlug)
	return nil
}

func (n *LogNotifier) NotifyAdmins(_ context.Context, subject, _ string) error {
	n.AdminSubjects = append(n.AdminSubjects, subject)
	logutils.Log.Infof("notify admins: %s", subject)
	return nil
}
