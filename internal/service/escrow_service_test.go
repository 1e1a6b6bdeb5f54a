package service

import (
	"context"
	"testing"

	"marketplace/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestFundMilestoneSplitsFee(t *testing.T) {
	env := newTestEnv(t)
	locked := env.lockedProject(t)
	m := locked.Milestones[1]

	payment, err := env.escrow.FundMilestone(context.Background(), m.ID, env.company(), "7000")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if payment.Status != model.PaymentEscrowed || payment.EscrowedAt == nil {
		t.Fatalf("expected auto-confirmed escrow, got %s", payment.Status)
	}
	if payment.PlatformFeeAmount != "700.00" || payment.ProviderAmount != "6300.00" {
		t.Fatalf("fee split = %s / %s", payment.PlatformFeeAmount, payment.ProviderAmount)
	}
	if payment.Method != model.PaymentMethodEscrow {
		t.Fatalf("method = %s", payment.Method)
	}

	set, err := env.milestones.GetMilestones(context.Background(), locked.ProjectID, env.company())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if set.Milestones[1].Status != model.MilestoneFunded {
		t.Fatalf("milestone status = %s", set.Milestones[1].Status)
	}
}

func TestFundMilestoneRequiresLockedSet(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.acceptedProject(t)
	m := accepted.Milestones[0]

	_, err := env.escrow.FundMilestone(context.Background(), m.ID, env.company(), m.Amount)
	requireErrorAs[*InvalidStateError](t, err)
}

func TestFundMilestoneChecksAmountAndActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]

	_, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), "4999.99")
	requireValidation(t, err, "amount")

	_, err = env.escrow.FundMilestone(ctx, m.ID, env.company(), "abc")
	requireValidation(t, err, "amount")

	_, err = env.escrow.FundMilestone(ctx, m.ID, env.provider(), m.Amount)
	requireErrorAs[*ForbiddenError](t, err)
}

func TestFundMilestoneRetryReturnsExistingPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]

	first, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	again, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), "5000")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("retry created a second payment")
	}

	_, err = env.escrow.FundMilestone(ctx, m.ID, env.company(), "4000")
	requireErrorAs[*InvalidStateError](t, err)

	if n := env.auditCount(t, model.ActionFundMilestone, first.ID); n != 1 {
		t.Fatalf("funded %d times", n)
	}
}

func TestFeeRateIsFixedAtFunding(t *testing.T) {
	env := newTestEnvWithOptions(t, EscrowOptions{FeeRate: decimal.RequireFromString("0.125"), AutoConfirm: true})
	locked := env.lockedProject(t)
	m := locked.Milestones[2]

	payment, err := env.escrow.FundMilestone(context.Background(), m.ID, env.company(), m.Amount)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	// 3000 * 0.125 = 375
	if payment.PlatformFeeAmount != "375.00" || payment.ProviderAmount != "2625.00" || payment.PlatformFeeRate != "0.125" {
		t.Fatalf("unexpected split %+v", payment)
	}
}

func TestConfirmEscrowFromSettlementNotifier(t *testing.T) {
	env := newTestEnvWithOptions(t, EscrowOptions{FeeRate: decimal.RequireFromString("0.10")})
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]

	pending, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if pending.Status != model.PaymentPending {
		t.Fatalf("status = %s, want PENDING", pending.Status)
	}

	_, err = env.milestones.ApproveDeliverable(ctx, locked.ProjectID, m.ID, env.companyID)
	requireErrorAs[*InvalidStateError](t, err)

	escrowed, err := env.escrow.ConfirmEscrow(ctx, pending.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if escrowed.Status != model.PaymentEscrowed {
		t.Fatalf("status = %s", escrowed.Status)
	}

	if _, err := env.escrow.ConfirmEscrow(ctx, pending.ID); err != nil {
		t.Fatalf("repeated notification: %v", err)
	}
	if env.publisher.count("payment.escrowed") != 1 {
		t.Fatalf("repeated notification published again")
	}
}

func TestReleaseRequiresDeliverableApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]

	if _, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
	_, err := env.escrow.ReleaseMilestone(ctx, m.ID, env.company())
	requireErrorAs[*InvalidStateError](t, err)

	if _, err := env.milestones.ApproveDeliverable(ctx, locked.ProjectID, m.ID, env.companyID); err != nil {
		t.Fatalf("approve deliverable: %v", err)
	}

	_, err = env.escrow.ReleaseMilestone(ctx, m.ID, env.provider())
	requireErrorAs[*ForbiddenError](t, err)

	released, err := env.escrow.ReleaseMilestone(ctx, m.ID, env.company())
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != model.PaymentReleased || released.ReleasedAt == nil {
		t.Fatalf("unexpected payment %+v", released)
	}

	_, err = env.escrow.ReleaseMilestone(ctx, m.ID, env.admin)
	requireErrorAs[*InvalidStateError](t, err)
}

func TestListProjectPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	for _, m := range locked.Milestones[:2] {
		if _, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount); err != nil {
			t.Fatalf("fund %s: %v", m.Title, err)
		}
	}

	payments, err := env.escrow.ListProjectPayments(ctx, locked.ProjectID, env.provider())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(payments))
	}
	for _, p := range payments {
		if p.MilestoneTitle == "" {
			t.Fatalf("payment %s missing milestone title", p.ID)
		}
	}

	_, err = env.escrow.GetPayment(ctx, "not-a-uuid", env.company())
	requireValidation(t, err, "payment_id")
}

func TestReadsAreScopedToProjectParties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]
	payment, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}

	stranger := Actor{ID: uuid.New(), Role: model.RoleCompany}
	_, err = env.milestones.GetMilestones(ctx, locked.ProjectID, stranger)
	requireErrorAs[*ForbiddenError](t, err)
	_, err = env.escrow.GetPayment(ctx, payment.ID, stranger)
	requireErrorAs[*ForbiddenError](t, err)
	_, err = env.escrow.ListProjectPayments(ctx, locked.ProjectID, stranger)
	requireErrorAs[*ForbiddenError](t, err)

	for _, actor := range []Actor{env.company(), env.provider(), env.admin} {
		if _, err := env.escrow.GetPayment(ctx, payment.ID, actor); err != nil {
			t.Fatalf("%s read payment: %v", actor.Role, err)
		}
		if _, err := env.milestones.GetMilestones(ctx, locked.ProjectID, actor); err != nil {
			t.Fatalf("%s read milestones: %v", actor.Role, err)
		}
	}
}
