/*
ledger_test.go - Payment recording tests

Tests for:
- Balance effects of Completed records
- History-only handling of Pending/Failed/Refunded records
- The conflict and state errors raised on bad references
*/
package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warp/fee-engine/billing"
)

func TestRecordPayment_CompletedUpdatesBalances(t *testing.T) {
	// GIVEN: A 12,000 assignment with a generated schedule
	// WHEN: Recording a completed 1666.67 payment against EMI #1
	// THEN: The installment is Paid, AmountPaid/AmountPending move,
	//       and the payment lands in history

	ctx := context.Background()
	mem, a, rows := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))
	ledger := &billing.PaymentLedger{Store: mem}

	emi := rows[1]
	rec, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
		AssignmentID:  a.ID,
		InstallmentID: &emi.ID,
		Amount:        money("1666.67"),
		Method:        billing.MethodTransfer,
		Date:          billing.NewDate(2026, 3, 30),
		TransactionID: "txn-123",
		RecordedBy:    "admin",
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if rec.Status != billing.PaymentCompleted {
		t.Errorf("expected completed status by default, got %s", rec.Status)
	}

	got, _ := mem.GetAssignment(ctx, a.ID)
	if got.AmountPaid.String() != "1666.67" {
		t.Errorf("expected AmountPaid 1666.67, got %s", got.AmountPaid)
	}
	if got.AmountPending.String() != "10333.33" {
		t.Errorf("expected AmountPending 10333.33, got %s", got.AmountPending)
	}
	if got.Status != billing.AssignmentActive {
		t.Errorf("partially paid assignment should stay active, got %s", got.Status)
	}

	inst, _ := mem.GetInstallment(ctx, emi.ID)
	if inst.Status != billing.InstallmentPaid {
		t.Errorf("expected installment paid, got %s", inst.Status)
	}
	if inst.PaidDate == nil || !inst.PaidDate.Equal(billing.NewDate(2026, 3, 30)) {
		t.Errorf("expected paid date 2026-03-30, got %v", inst.PaidDate)
	}

	history, _ := mem.ListPayments(ctx, a.ID)
	if len(history) != 1 {
		t.Fatalf("expected 1 payment record, got %d", len(history))
	}
}

func TestRecordPayment_SettlementCompletesAssignment(t *testing.T) {
	// Paying the full snapshot total settles the assignment.
	ctx := context.Background()
	mem, a, _ := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))
	ledger := &billing.PaymentLedger{Store: mem}

	_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
		AssignmentID: a.ID,
		Amount:       money("12000"),
		Method:       billing.MethodCash,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	got, _ := mem.GetAssignment(ctx, a.ID)
	if !got.IsSettled() {
		t.Errorf("expected settled, pending=%s", got.AmountPending)
	}
	if got.Status != billing.AssignmentCompleted {
		t.Errorf("expected completed status, got %s", got.Status)
	}
}

func TestRecordPayment_PendingIsHistoryOnly(t *testing.T) {
	// Pending records append history but never move balances.
	ctx := context.Background()
	mem, a, _ := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))
	ledger := &billing.PaymentLedger{Store: mem}

	_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
		AssignmentID: a.ID,
		Amount:       money("500"),
		Method:       billing.MethodOnline,
		Status:       billing.PaymentPending,
	})
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	got, _ := mem.GetAssignment(ctx, a.ID)
	if !got.AmountPaid.IsZero() {
		t.Errorf("pending payment moved the balance: %s", got.AmountPaid)
	}
	history, _ := mem.ListPayments(ctx, a.ID)
	if len(history) != 1 {
		t.Errorf("expected 1 history row, got %d", len(history))
	}
}

func TestRecordPayment_RefundDoesNotDecrement(t *testing.T) {
	// GIVEN: A completed payment on the books
	// WHEN: Recording a refund for the same amount
	// THEN: AmountPaid stays; the refund is history only

	ctx := context.Background()
	mem, a, _ := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))
	ledger := &billing.PaymentLedger{Store: mem}

	if _, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
		AssignmentID: a.ID,
		Amount:       money("2000"),
		Method:       billing.MethodCard,
	}); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	if _, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
		AssignmentID: a.ID,
		Amount:       money("2000"),
		Method:       billing.MethodCard,
		Status:       billing.PaymentRefunded,
	}); err != nil {
		t.Fatalf("record refund: %v", err)
	}

	got, _ := mem.GetAssignment(ctx, a.ID)
	if got.AmountPaid.String() != "2000.00" {
		t.Errorf("refund must not decrement AmountPaid, got %s", got.AmountPaid)
	}
	history, _ := mem.ListPayments(ctx, a.ID)
	if len(history) != 2 {
		t.Errorf("expected 2 history rows, got %d", len(history))
	}
}

func TestRecordPayment_Errors(t *testing.T) {
	ctx := context.Background()
	mem, a, rows := seedAssignment(t, standardPlan(), billing.NewDate(2026, 3, 1))
	ledger := &billing.PaymentLedger{Store: mem}

	// A second assignment to provoke the cross-assignment mismatch.
	other := activeAssignment("assign-2", standardPlan(), billing.NewDate(2026, 3, 1))
	other.StudentID = "student-2"
	if err := mem.CreateAssignment(ctx, other); err != nil {
		t.Fatalf("create other assignment: %v", err)
	}

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID: a.ID,
			Amount:       billing.ZeroMoney(),
			Method:       billing.MethodCash,
		})
		if !errors.Is(err, billing.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unknown assignment", func(t *testing.T) {
		_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID: "missing",
			Amount:       money("100"),
			Method:       billing.MethodCash,
		})
		if !errors.Is(err, billing.ErrAssignmentNotFound) {
			t.Errorf("expected ErrAssignmentNotFound, got %v", err)
		}
	})

	t.Run("installment from another assignment", func(t *testing.T) {
		_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID:  other.ID,
			InstallmentID: &rows[1].ID,
			Amount:        money("100"),
			Method:        billing.MethodCash,
		})
		if !errors.Is(err, billing.ErrInstallmentMismatch) {
			t.Errorf("expected ErrInstallmentMismatch, got %v", err)
		}
		if !errors.Is(err, billing.ErrConflict) {
			t.Errorf("mismatch should unwrap to ErrConflict, got %v", err)
		}
	})

	t.Run("installment already paid", func(t *testing.T) {
		if _, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID:  a.ID,
			InstallmentID: &rows[2].ID,
			Amount:        money("1666.67"),
			Method:        billing.MethodCash,
		}); err != nil {
			t.Fatalf("first payment: %v", err)
		}
		_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID:  a.ID,
			InstallmentID: &rows[2].ID,
			Amount:        money("1666.67"),
			Method:        billing.MethodCash,
		})
		if !errors.Is(err, billing.ErrInstallmentAlreadyPaid) {
			t.Errorf("expected ErrInstallmentAlreadyPaid, got %v", err)
		}
	})

	t.Run("cancelled assignment rejects payments", func(t *testing.T) {
		other.Status = billing.AssignmentCancelled
		if err := mem.UpdateAssignment(ctx, other); err != nil {
			t.Fatalf("update: %v", err)
		}
		_, err := ledger.RecordPayment(ctx, billing.RecordPaymentInput{
			AssignmentID: other.ID,
			Amount:       money("100"),
			Method:       billing.MethodCash,
		})
		if !errors.Is(err, billing.ErrState) {
			t.Errorf("expected ErrState, got %v", err)
		}
	})
}
