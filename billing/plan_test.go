package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warp/fee-engine/billing"
	"github.com/warp/fee-engine/billing/store"
)

func TestPlanValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(p *billing.FeePlan)
		field  string
	}{
		{"empty name", func(p *billing.FeePlan) { p.Name = "  " }, "name"},
		{"empty code", func(p *billing.FeePlan) { p.Code = "" }, "code"},
		{"zero total", func(p *billing.FeePlan) { p.TotalAmount = billing.ZeroMoney() }, "totalAmount"},
		{"negative down payment", func(p *billing.FeePlan) { p.DownPayment = money("-1") }, "downPayment"},
		{"down payment equals total", func(p *billing.FeePlan) { p.DownPayment = p.TotalAmount }, "downPayment"},
		{"unknown payment type", func(p *billing.FeePlan) { p.PaymentType = "weekly" }, "paymentType"},
		{"installment plan without count", func(p *billing.FeePlan) { p.InstallmentCount = nil }, "installmentCount"},
		{"zero installment count", func(p *billing.FeePlan) { p.InstallmentCount = intPtr(0) }, "installmentCount"},
		{"negative grace period", func(p *billing.FeePlan) { p.GracePeriodDays = -1 }, "gracePeriodDays"},
		{"negative fixed late fee", func(p *billing.FeePlan) { p.LateFeeFixed = money("-5") }, "lateFeeFixed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := standardPlan()
			tc.mutate(plan)

			err := plan.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, billing.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			var ve *billing.ValidationError
			if errors.As(err, &ve) && ve.Field != tc.field {
				t.Errorf("expected field %q, got %q", tc.field, ve.Field)
			}
		})
	}
}

func TestPlanValidate_ValidPlan(t *testing.T) {
	if err := standardPlan().Validate(); err != nil {
		t.Errorf("standard plan should validate, got %v", err)
	}
}

func TestEMIAmount_Rounding(t *testing.T) {
	// (10000 - 0) / 3 = 3333.333... -> 3333.33, half away from zero
	plan := &billing.FeePlan{
		TotalAmount:      money("10000"),
		InstallmentCount: intPtr(3),
		DownPayment:      billing.ZeroMoney(),
	}
	emi := plan.EMIAmount(plan.TotalAmount)
	if emi.String() != "3333.33" {
		t.Errorf("expected 3333.33, got %s", emi)
	}
}

func TestPlanCatalog_SaveClearsOtherDefaults(t *testing.T) {
	// GIVEN: An existing default plan
	// WHEN: Saving a second plan flagged default
	// THEN: Only the new plan remains default

	ctx := context.Background()
	mem := store.NewMemory()
	catalog := &billing.PlanCatalog{Store: mem}

	first := standardPlan()
	first.IsDefault = true
	if err := catalog.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	second := standardPlan()
	second.ID = "plan-alt"
	second.Code = "ALT-6"
	second.IsDefault = true
	if err := catalog.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := mem.GetDefaultPlan(ctx)
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("expected %s to be default, got %+v", second.ID, got)
	}

	old, _ := mem.GetPlan(ctx, first.ID)
	if old.IsDefault {
		t.Error("first plan should have lost its default flag")
	}
}

func TestPlanCatalog_SaveRejectsInvalid(t *testing.T) {
	catalog := &billing.PlanCatalog{Store: store.NewMemory()}
	plan := standardPlan()
	plan.Code = ""
	if err := catalog.Save(context.Background(), plan); !errors.Is(err, billing.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPlanCatalog_Deactivate(t *testing.T) {
	// Deactivation retires the plan and clears its default flag; the row stays.
	ctx := context.Background()
	mem := store.NewMemory()
	catalog := &billing.PlanCatalog{Store: mem}

	plan := standardPlan()
	plan.IsDefault = true
	if err := catalog.Save(ctx, plan); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := catalog.Deactivate(ctx, plan.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, _ := mem.GetPlan(ctx, plan.ID)
	if got == nil {
		t.Fatal("plan row should survive deactivation")
	}
	if got.IsActive || got.IsDefault {
		t.Errorf("expected inactive non-default, got active=%v default=%v", got.IsActive, got.IsDefault)
	}
}

func TestPlanCatalog_DeactivateUnknown(t *testing.T) {
	catalog := &billing.PlanCatalog{Store: store.NewMemory()}
	if err := catalog.Deactivate(context.Background(), "missing"); !billing.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
