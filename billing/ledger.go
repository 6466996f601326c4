/*
ledger.go - Payment recording and reconciliation

PURPOSE:
  RecordPayment is the single entry point for payment history. Admin
  entries and gateway callbacks both land here; the engine only RECORDS
  outcomes, it never talks to a gateway.

BALANCE RULES:
  - Only Completed records touch balances. Pending/Failed/Refunded rows
    are appended as history and change nothing.
  - A Completed record adds to the assignment's AmountPaid atomically
    (single-statement update in the store), rederives AmountPending, and
    settles the assignment when the balance reaches zero.
  - A linked installment is marked Paid with the payment date.
  - Refunds do NOT decrement AmountPaid. Reconciling a refund against the
    balance is a deliberate manual step, not automatic.

CONCURRENCY:
  Two concurrent recordings for the same assignment (an admin entry racing
  a gateway callback) must not lose an update; the store serializes the
  balance mutation per assignment.

SEE ALSO:
  - store.go: ApplyCompletedPayment atomicity contract
  - errors.go: NotFound/State/Conflict taxonomy raised here
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordPaymentInput is the request to record one payment.
type RecordPaymentInput struct {
	AssignmentID  AssignmentID
	InstallmentID *InstallmentID // optional link to a schedule row
	Amount        Money
	Method        PaymentMethod
	Date          Date
	TransactionID string
	Status        PaymentStatus // defaults to Completed when empty
	RecordedBy    string
}

// PaymentLedger applies payment records to assignments.
type PaymentLedger struct {
	Store Store
}

// RecordPayment validates and persists a payment record, applying balance
// effects only for Completed status.
func (l *PaymentLedger) RecordPayment(ctx context.Context, in RecordPaymentInput) (*PaymentRecord, error) {
	if !in.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be positive"}
	}
	status := in.Status
	if status == "" {
		status = PaymentCompleted
	}
	switch status {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
	default:
		return nil, &ValidationError{Field: "status", Message: "unknown payment status"}
	}

	a, err := l.Store.GetAssignment(ctx, in.AssignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAssignmentNotFound
	}
	if a.Status != AssignmentActive {
		return nil, &StateError{AssignmentID: a.ID, Status: a.Status, Operation: "record payment"}
	}

	if in.InstallmentID != nil {
		inst, err := l.Store.GetInstallment(ctx, *in.InstallmentID)
		if err != nil {
			return nil, err
		}
		if inst == nil {
			return nil, ErrInstallmentNotFound
		}
		if inst.AssignmentID != a.ID {
			return nil, ErrInstallmentMismatch
		}
		if inst.Status == InstallmentPaid {
			return nil, ErrInstallmentAlreadyPaid
		}
	}

	date := in.Date
	if date.IsZero() {
		date = Today()
	}

	rec := &PaymentRecord{
		ID:            PaymentID(uuid.NewString()),
		AssignmentID:  a.ID,
		InstallmentID: in.InstallmentID,
		Amount:        in.Amount,
		Method:        in.Method,
		Date:          date,
		TransactionID: in.TransactionID,
		Status:        status,
		RecordedBy:    in.RecordedBy,
		CreatedAt:     time.Now().UTC(),
	}

	if status == PaymentCompleted {
		if err := l.Store.ApplyCompletedPayment(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	// History only. Refunds included: see package comment.
	if err := l.Store.InsertPaymentRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
