package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace/internal/database"
	"marketplace/internal/events"
	"marketplace/internal/lock"
	"marketplace/internal/model"
	"marketplace/internal/repository"
	"marketplace/pkg/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps transactions serialized like row locks would.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeStore struct {
	uploads int
	err     error
}

func (s *fakeStore) Upload(_ context.Context, file io.Reader, folder, name string) (storage.Document, error) {
	if s.err != nil {
		return storage.Document{}, s.err
	}
	if _, err := io.ReadAll(file); err != nil {
		return storage.Document{}, err
	}
	s.uploads++
	return storage.Document{
		URL:      "https://res.example.com/" + folder + "/" + name,
		PublicID: folder + "/" + name,
	}, nil
}

type testEnv struct {
	db        *gorm.DB
	publisher *recordingPublisher
	store     *fakeStore

	auditRepo   repository.AuditRepository
	paymentRepo repository.PaymentRepository
	payoutRepo  repository.PayoutMethodRepository

	proposals  ProposalService
	milestones MilestoneService
	escrow     EscrowService
	transfers  TransferService
	payouts    PayoutService

	companyID  uuid.UUID
	providerID uuid.UUID
	admin      Actor
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithOptions(t, EscrowOptions{FeeRate: decimal.RequireFromString("0.10"), AutoConfirm: true})
}

func newTestEnvWithOptions(t *testing.T, opts EscrowOptions) *testEnv {
	t.Helper()
	db := setupTestDB(t)
	log := zap.NewNop()
	pub := &recordingPublisher{}
	store := &fakeStore{}
	locker := lock.NewKeyedMutex()

	txManager := repository.NewTransactionManager(db)
	serviceRequestRepo := repository.NewServiceRequestRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	milestoneRepo := repository.NewMilestoneRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	payoutRepo := repository.NewPayoutMethodRepository(db)
	proofRepo := repository.NewTransferProofRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	return &testEnv{
		db:          db,
		publisher:   pub,
		store:       store,
		auditRepo:   auditRepo,
		paymentRepo: paymentRepo,
		payoutRepo:  payoutRepo,
		proposals:   NewProposalService(serviceRequestRepo, proposalRepo, projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, pub, log),
		milestones:  NewMilestoneService(projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, pub, log),
		escrow:      NewEscrowService(projectRepo, milestoneRepo, approvalRepo, paymentRepo, auditRepo, txManager, locker, pub, log, opts),
		transfers:   NewTransferService(projectRepo, milestoneRepo, paymentRepo, proofRepo, payoutRepo, auditRepo, txManager, store, locker, pub, log),
		payouts:     NewPayoutService(payoutRepo, auditRepo, txManager),
		companyID:   uuid.New(),
		providerID:  uuid.New(),
		admin:       Actor{ID: uuid.New(), Role: model.RoleAdmin},
	}
}

func (e *testEnv) company() Actor  { return Actor{ID: e.companyID, Role: model.RoleCompany} }
func (e *testEnv) provider() Actor { return Actor{ID: e.providerID, Role: model.RoleProvider} }

func dueIn(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func (e *testEnv) createServiceRequest(t *testing.T) ServiceRequestResponse {
	t.Helper()
	sr, err := e.proposals.CreateServiceRequest(context.Background(), e.companyID, CreateServiceRequestRequest{
		Title:        "Warehouse dashboard",
		Description:  "Inventory dashboard with realtime stock levels",
		BudgetMin:    "10000",
		BudgetMax:    "20000",
		TimelineDays: 90,
	})
	if err != nil {
		t.Fatalf("create service request: %v", err)
	}
	return sr
}

// standardMilestones adds up to 15000.
func standardMilestones() []MilestoneInput {
	return []MilestoneInput{
		{Sequence: 1, Title: "Design", Description: "Wireframes and data model", Amount: "5000", DueDate: dueIn(20)},
		{Sequence: 2, Title: "Build", Description: "API and dashboard", Amount: "7000", DueDate: dueIn(50)},
		{Sequence: 3, Title: "Launch", Description: "Deployment and handover", Amount: "3000", DueDate: dueIn(80)},
	}
}

func (e *testEnv) submitProposal(t *testing.T, srID string, providerID uuid.UUID) ProposalResponse {
	t.Helper()
	p, err := e.proposals.SubmitProposal(context.Background(), providerID, SubmitProposalRequest{
		ServiceRequestID: srID,
		BidAmount:        "15000",
		TimelineDays:     85,
		CoverLetter:      "We built three of these last year.",
		Milestones:       standardMilestones(),
	})
	if err != nil {
		t.Fatalf("submit proposal: %v", err)
	}
	return p
}

// acceptedProject returns a NEGOTIATING project with the standard milestone set.
func (e *testEnv) acceptedProject(t *testing.T) AcceptProposalResponse {
	t.Helper()
	sr := e.createServiceRequest(t)
	p := e.submitProposal(t, sr.ID, e.providerID)
	res, err := e.proposals.AcceptProposal(context.Background(), p.ID, e.companyID)
	if err != nil {
		t.Fatalf("accept proposal: %v", err)
	}
	return res
}

// lockedProject returns a project both parties approved.
func (e *testEnv) lockedProject(t *testing.T) MilestoneSetResponse {
	t.Helper()
	accepted := e.acceptedProject(t)
	ctx := context.Background()
	if _, err := e.milestones.Approve(ctx, accepted.ProjectID, model.ActorCompany, e.companyID); err != nil {
		t.Fatalf("company approve: %v", err)
	}
	set, err := e.milestones.Approve(ctx, accepted.ProjectID, model.ActorProvider, e.providerID)
	if err != nil {
		t.Fatalf("provider approve: %v", err)
	}
	if !set.Approval.Locked {
		t.Fatalf("expected locked milestone set, got %s", set.Approval.State)
	}
	return set
}

// releasedPayment funds, approves and releases the first milestone of a locked project.
func (e *testEnv) releasedPayment(t *testing.T) (MilestoneSetResponse, PaymentResponse) {
	t.Helper()
	ctx := context.Background()
	set := e.lockedProject(t)
	m := set.Milestones[0]

	if _, err := e.escrow.FundMilestone(ctx, m.ID, e.company(), m.Amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := e.milestones.ApproveDeliverable(ctx, set.ProjectID, m.ID, e.companyID); err != nil {
		t.Fatalf("approve deliverable: %v", err)
	}
	payment, err := e.escrow.ReleaseMilestone(ctx, m.ID, e.company())
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	return set, payment
}

func (e *testEnv) addPayoutMethod(t *testing.T) {
	t.Helper()
	_, err := e.payouts.RegisterPayoutMethod(context.Background(), e.providerID.String(), e.provider(), RegisterPayoutMethodRequest{
		Type:       model.PayoutBankAccount,
		Label:      "Main account",
		AccountRef: "DE89370400440532013000",
	})
	if err != nil {
		t.Fatalf("register payout method: %v", err)
	}
}

func (e *testEnv) auditCount(t *testing.T, action, entityID string) int64 {
	t.Helper()
	n, err := e.auditRepo.CountByAction(context.Background(), action, entityID)
	if err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func requireValidation(t *testing.T, err error, fields ...string) *ValidationError {
	t.Helper()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	for _, f := range fields {
		found := false
		for _, fe := range ve.Fields {
			if fe.Field == f {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected field %q in %v", f, ve.Fields)
		}
	}
	return ve
}

func requireErrorAs[T error](t *testing.T, err error) {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %T: %v", target, err, err)
	}
}
