/*
Package notify delivers installment reminders.

PURPOSE:
  Implements billing.Notifier. Two implementations ship:
  - Console: writes the reminder to the process log (dev, tests)
  - Sendgrid: sends an email through the SendGrid v3 API

  Delivery is best effort end to end: the daily runner logs a failed
  NotifyInstallmentDue and moves on, and neither implementation retries.

CONTACTS:
  The engine only knows student IDs. ContactResolver maps an ID to a
  name and email address; the server wires one backed by the catalog,
  tests use StaticContacts.
*/
package notify

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/warp/fee-engine/billing"
)

// ContactResolver maps a student ID to a deliverable contact.
type ContactResolver interface {
	Contact(ctx context.Context, id billing.StudentID) (name, email string, err error)
}

// StaticContacts is a fixed ContactResolver for tests and seeds.
type StaticContacts map[billing.StudentID]string

func (s StaticContacts) Contact(_ context.Context, id billing.StudentID) (string, string, error) {
	email, ok := s[id]
	if !ok {
		return "", "", fmt.Errorf("no contact for student %s", id)
	}
	return string(id), email, nil
}

// =============================================================================
// CONSOLE
// =============================================================================

// Console logs reminders instead of delivering them.
type Console struct{}

var _ billing.Notifier = (*Console)(nil)

func (Console) NotifyInstallmentDue(_ context.Context, r billing.Reminder) error {
	if r.DaysOverdue > 0 {
		log.Printf("[Notify] student=%s course=%s installment #%d OVERDUE %d days, outstanding %s (due %s)",
			r.StudentID, r.CourseID, r.Number, r.DaysOverdue, r.Outstanding, r.DueDate)
		return nil
	}
	log.Printf("[Notify] student=%s course=%s installment #%d due %s, outstanding %s",
		r.StudentID, r.CourseID, r.Number, r.DueDate, r.Outstanding)
	return nil
}

// =============================================================================
// SENDGRID
// =============================================================================

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// Sendgrid sends reminder emails through the SendGrid v3 API.
type Sendgrid struct {
	key      string
	from     *sgmail.Email
	contacts ContactResolver
}

var _ billing.Notifier = (*Sendgrid)(nil)

func NewSendgrid(apiKey, fromName, fromEmail string, contacts ContactResolver) *Sendgrid {
	return &Sendgrid{
		key:      apiKey,
		from:     sgmail.NewEmail(fromName, fromEmail),
		contacts: contacts,
	}
}

func (svc *Sendgrid) NotifyInstallmentDue(ctx context.Context, r billing.Reminder) error {
	name, email, err := svc.contacts.Contact(ctx, r.StudentID)
	if err != nil {
		return err
	}

	req := sendgrid.GetRequest(svc.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(name, email, r))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("sending reminder email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending reminder email - status: %d - body: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (svc *Sendgrid) prepare(name, email string, r billing.Reminder) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(name, email))
	if r.DaysOverdue > 0 {
		p.Subject = fmt.Sprintf("Payment overdue: installment #%d", r.Number)
	} else {
		p.Subject = fmt.Sprintf("Payment reminder: installment #%d due %s", r.Number, r.DueDate)
	}

	var text string
	if r.DaysOverdue > 0 {
		text = fmt.Sprintf(
			"Hi %s,\n\nInstallment #%d for course %s was due on %s and is now %d day(s) overdue.\nOutstanding amount: %s.\n\nPlease settle the balance to keep access to your course.\n",
			name, r.Number, r.CourseID, r.DueDate, r.DaysOverdue, r.Outstanding)
	} else {
		text = fmt.Sprintf(
			"Hi %s,\n\nInstallment #%d for course %s is due on %s.\nOutstanding amount: %s.\n",
			name, r.Number, r.CourseID, r.DueDate, r.Outstanding)
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", text))
	return m
}

// =============================================================================
// RECORDER (tests)
// =============================================================================

// Recorder captures reminders for assertions. Safe for the runner's
// concurrent sweep workers.
type Recorder struct {
	mu   sync.Mutex
	Sent []billing.Reminder
	Err  error
}

var _ billing.Notifier = (*Recorder)(nil)

func (r *Recorder) NotifyInstallmentDue(_ context.Context, rem billing.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Sent = append(r.Sent, rem)
	return nil
}

// Reminders returns a copy of everything captured so far.
func (r *Recorder) Reminders() []billing.Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]billing.Reminder, len(r.Sent))
	copy(out, r.Sent)
	return out
}
