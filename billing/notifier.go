/*
notifier.go - Outbound reminder collaborator

PURPOSE:
  The daily run dispatches payment reminders through a Notifier. Delivery
  is somebody else's problem: calls are fire-and-forget, failures are
  logged and never abort the sweep, and no retry is guaranteed.

IMPLEMENTATIONS:
  - notify.Console:  logs reminders (default, and used in tests)
  - notify.Sendgrid: emails reminders via SendGrid

SEE ALSO:
  - runner.go: The only caller (Step D, reminder sweep)
*/
package billing

import "context"

// Reminder is the payload handed to the Notifier for one installment.
type Reminder struct {
	StudentID     StudentID
	CourseID      CourseID
	AssignmentID  AssignmentID
	InstallmentID InstallmentID
	Number        int
	Amount        Money
	Outstanding   Money
	DueDate       Date
	DaysOverdue   int // 0 when the installment is merely upcoming
}

// Notifier dispatches reminders. Implementations must be safe for
// concurrent use; errors are advisory only.
type Notifier interface {
	NotifyInstallmentDue(ctx context.Context, r Reminder) error
}
