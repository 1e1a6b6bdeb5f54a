package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace/internal/model"

	"github.com/google/uuid"
)

func TestApprovalScenarioLocksOnSecondParty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sr := env.createServiceRequest(t)

	p, err := env.proposals.SubmitProposal(ctx, env.providerID, SubmitProposalRequest{
		ServiceRequestID: sr.ID,
		BidAmount:        "15000",
		TimelineDays:     30,
		Milestones: []MilestoneInput{
			{Title: "First half", Description: "Backend", Amount: "5000", DueDate: dueIn(7)},
			{Title: "Second half", Description: "Frontend", Amount: "10000", DueDate: dueIn(14)},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	accepted, err := env.proposals.AcceptProposal(ctx, p.ID, env.companyID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertApproval(t, accepted.Approval, false, false, false)

	set, err := env.milestones.Approve(ctx, accepted.ProjectID, model.ActorCompany, env.companyID)
	if err != nil {
		t.Fatalf("company approve: %v", err)
	}
	assertApproval(t, set.Approval, true, false, false)

	set, err = env.milestones.Approve(ctx, accepted.ProjectID, model.ActorProvider, env.providerID)
	if err != nil {
		t.Fatalf("provider approve: %v", err)
	}
	assertApproval(t, set.Approval, true, true, true)
	if set.ProjectStatus != model.ProjectInProgress {
		t.Fatalf("project status = %s", set.ProjectStatus)
	}

	_, err = env.milestones.EditMilestones(ctx, accepted.ProjectID, env.companyID, EditMilestonesRequest{
		Milestones: []MilestoneInput{{Title: "All", Description: "Everything", Amount: "15000", DueDate: dueIn(7)}},
	})
	requireErrorAs[*InvalidStateError](t, err)
}

func assertApproval(t *testing.T, a ApprovalStateResponse, company, provider, locked bool) {
	t.Helper()
	if a.CompanyApproved != company || a.ProviderApproved != provider || a.Locked != locked {
		t.Fatalf("approval = %+v, want company=%v provider=%v locked=%v", a, company, provider, locked)
	}
	if locked != (a.MilestonesApprovedAt != nil) {
		t.Fatalf("milestones_approved_at = %v with locked=%v", a.MilestonesApprovedAt, locked)
	}
}

func TestEditMilestonesRejectsWrongTotal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)

	_, err := env.milestones.EditMilestones(ctx, accepted.ProjectID, env.providerID, EditMilestonesRequest{
		Milestones: []MilestoneInput{
			{Title: "Design", Description: "Wireframes", Amount: "4000", DueDate: dueIn(10)},
			{Title: "Build", Description: "API", Amount: "10000", DueDate: dueIn(30)},
		},
	})
	ve := requireValidation(t, err, "milestones")
	msg := ve.Error()
	if !strings.Contains(msg, "14000") || !strings.Contains(msg, "15000") {
		t.Fatalf("message %q should cite both totals", msg)
	}

	set, err := env.milestones.GetMilestones(ctx, accepted.ProjectID, env.company())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(set.Milestones) != 3 {
		t.Fatalf("rejected edit changed the set: %d milestones", len(set.Milestones))
	}
}

func TestEditMilestonesRejectsSubCentAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)

	// Sums to the approved 15000 exactly but cannot be stored at cent precision.
	_, err := env.milestones.EditMilestones(ctx, accepted.ProjectID, env.providerID, EditMilestonesRequest{
		Milestones: []MilestoneInput{
			{Title: "Design", Description: "Wireframes", Amount: "7500.005", DueDate: dueIn(10)},
			{Title: "Build", Description: "API", Amount: "7499.995", DueDate: dueIn(30)},
		},
	})
	requireValidation(t, err, "milestones[0].amount", "milestones[1].amount")

	set, err := env.milestones.GetMilestones(ctx, accepted.ProjectID, env.company())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(set.Milestones) != 3 {
		t.Fatalf("rejected edit changed the set: %d milestones", len(set.Milestones))
	}

	// Trailing zeros beyond the cent are not extra precision.
	_, err = env.milestones.EditMilestones(ctx, accepted.ProjectID, env.providerID, EditMilestonesRequest{
		Milestones: []MilestoneInput{
			{Title: "Design", Description: "Wireframes", Amount: "7500.010", DueDate: dueIn(10)},
			{Title: "Build", Description: "API", Amount: "7499.99", DueDate: dueIn(30)},
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
}

func TestEditMilestonesReplacesSetAndResequences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)
	design, build := accepted.Milestones[0], accepted.Milestones[1]

	set, err := env.milestones.EditMilestones(ctx, accepted.ProjectID, env.providerID, EditMilestonesRequest{
		Milestones: []MilestoneInput{
			{ID: build.ID, Sequence: 5, Title: "Build", Description: "API and dashboard", Amount: "8000", DueDate: dueIn(50)},
			{ID: design.ID, Sequence: 2, Title: "Design v2", Description: "Wireframes", Amount: "5000", DueDate: dueIn(20)},
			{Title: "QA", Description: "Acceptance tests", Amount: "2000", DueDate: dueIn(70)},
		},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	want := []struct {
		title string
		id    string
	}{{"Design v2", design.ID}, {"Build", build.ID}, {"QA", ""}}
	if len(set.Milestones) != len(want) {
		t.Fatalf("expected %d milestones, got %d", len(want), len(set.Milestones))
	}
	for i, m := range set.Milestones {
		if m.Sequence != i+1 || m.Title != want[i].title {
			t.Fatalf("milestone %d = %d/%s", i, m.Sequence, m.Title)
		}
		if want[i].id != "" && m.ID != want[i].id {
			t.Fatalf("milestone %s lost its id", m.Title)
		}
	}

	var launch int64
	if err := env.db.Model(&model.Milestone{}).Where("id = ?", accepted.Milestones[2].ID).Count(&launch).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if launch != 0 {
		t.Fatalf("milestone left out of the set was not deleted")
	}
}

func TestEditMilestonesRejectsForeignIDs(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.acceptedProject(t)

	_, err := env.milestones.EditMilestones(context.Background(), accepted.ProjectID, env.companyID, EditMilestonesRequest{
		Milestones: []MilestoneInput{
			{ID: uuid.NewString(), Title: "All", Description: "Everything", Amount: "15000", DueDate: dueIn(30)},
		},
	})
	requireValidation(t, err, "milestones[0].id")
}

func TestEditMilestonesKeepsApprovalFlags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)

	if _, err := env.milestones.Approve(ctx, accepted.ProjectID, model.ActorCompany, env.companyID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	set, err := env.milestones.EditMilestones(ctx, accepted.ProjectID, env.companyID, EditMilestonesRequest{
		Milestones: []MilestoneInput{{Title: "All", Description: "Everything", Amount: "15000", DueDate: dueIn(30)}},
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if set.Approval.State != model.ApprovalUnlockedCompany {
		t.Fatalf("edit changed approval to %s", set.Approval.State)
	}
}

func TestEditMilestonesRequiresParty(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.acceptedProject(t)

	_, err := env.milestones.EditMilestones(context.Background(), accepted.ProjectID, uuid.New(), EditMilestonesRequest{
		Milestones: standardMilestones(),
	})
	requireErrorAs[*ForbiddenError](t, err)
}

func TestLockIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)

	for _, actor := range []struct {
		role string
		id   uuid.UUID
	}{{model.ActorCompany, env.companyID}, {model.ActorProvider, env.providerID}} {
		_, err := env.milestones.Approve(ctx, locked.ProjectID, actor.role, actor.id)
		requireErrorAs[*InvalidStateError](t, err)
	}

	after, err := env.milestones.GetMilestones(ctx, locked.ProjectID, env.company())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	before, _ := time.Parse(time.RFC3339, *locked.Approval.MilestonesApprovedAt)
	stored, _ := time.Parse(time.RFC3339, *after.Approval.MilestonesApprovedAt)
	if !stored.Equal(before) {
		t.Fatalf("approval timestamp moved after lock")
	}
	if env.auditCount(t, model.ActionLockMilestones, locked.ProjectID) != 1 {
		t.Fatalf("expected exactly one lock")
	}
}

func TestApproveSamePartyTwiceIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)

	for i := 0; i < 2; i++ {
		set, err := env.milestones.Approve(ctx, accepted.ProjectID, model.ActorProvider, env.providerID)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if set.Approval.State != model.ApprovalUnlockedProvider {
			t.Fatalf("state = %s", set.Approval.State)
		}
	}
	if env.auditCount(t, model.ActionApproveMilestones, accepted.ProjectID) != 1 {
		t.Fatalf("repeated approval should not be recorded twice")
	}
}

func TestApproveChecksActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	accepted := env.acceptedProject(t)

	_, err := env.milestones.Approve(ctx, accepted.ProjectID, "CUSTOMER", env.companyID)
	requireValidation(t, err, "actor")

	_, err = env.milestones.Approve(ctx, accepted.ProjectID, model.ActorProvider, env.companyID)
	requireErrorAs[*ForbiddenError](t, err)
}

func TestConcurrentApprovalsLockOnce(t *testing.T) {
	for run := 0; run < 5; run++ {
		t.Run(fmt.Sprintf("run%d", run), func(t *testing.T) {
			concurrentApprovals(t)
		})
	}
}

func concurrentApprovals(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.acceptedProject(t)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, actor := range []struct {
		role string
		id   uuid.UUID
	}{{model.ActorCompany, env.companyID}, {model.ActorProvider, env.providerID}} {
		wg.Add(1)
		go func(role string, id uuid.UUID) {
			defer wg.Done()
			_, err := env.milestones.Approve(context.Background(), accepted.ProjectID, role, id)
			errs <- err
		}(actor.role, actor.id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	set, err := env.milestones.GetMilestones(context.Background(), accepted.ProjectID, env.company())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !set.Approval.Locked {
		t.Fatalf("lost update, state %s", set.Approval.State)
	}
	if n := env.auditCount(t, model.ActionLockMilestones, accepted.ProjectID); n != 1 {
		t.Fatalf("locked %d times", n)
	}
	if env.publisher.count("milestones.locked") != 1 {
		t.Fatalf("expected one lock event")
	}
}

func TestApproveDeliverable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	locked := env.lockedProject(t)
	m := locked.Milestones[0]

	_, err := env.milestones.ApproveDeliverable(ctx, locked.ProjectID, m.ID, env.companyID)
	requireErrorAs[*InvalidStateError](t, err)

	if _, err := env.escrow.FundMilestone(ctx, m.ID, env.company(), m.Amount); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err = env.milestones.ApproveDeliverable(ctx, locked.ProjectID, m.ID, env.providerID)
	requireErrorAs[*ForbiddenError](t, err)

	approved, err := env.milestones.ApproveDeliverable(ctx, locked.ProjectID, m.ID, env.companyID)
	if err != nil {
		t.Fatalf("approve deliverable: %v", err)
	}
	if approved.Status != model.MilestoneApproved || approved.DeliverableApprovedAt == nil {
		t.Fatalf("unexpected milestone %+v", approved)
	}
}
