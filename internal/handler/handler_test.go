package handler

import (
	"net/http"
	"testing"
	"time"

	"marketplace/internal/middleware"
	"marketplace/internal/model"
	"marketplace/internal/service"

	"github.com/google/uuid"
)

func dueIn(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

// lockedProjectViaAPI walks a service request through proposal, acceptance and
// dual approval over HTTP.
func (e *apiEnv) lockedProjectViaAPI(t *testing.T) service.MilestoneSetResponse {
	t.Helper()
	company := token(t, e.companyID, middleware.RoleCompany)
	provider := token(t, e.providerID, middleware.RoleProvider)

	code, res := e.do(t, http.MethodPost, "/api/service-requests", company, service.CreateServiceRequestRequest{
		Title: "Shop rebuild", Description: "New storefront", BudgetMin: "1000", BudgetMax: "5000", TimelineDays: 60,
	})
	if code != http.StatusCreated {
		t.Fatalf("create service request: %d %s", code, res.Error)
	}
	var sr service.ServiceRequestResponse
	decodeData(t, res, &sr)

	code, res = e.do(t, http.MethodPost, "/api/proposals", provider, service.SubmitProposalRequest{
		ServiceRequestID: sr.ID,
		BidAmount:        "3000",
		TimelineDays:     30,
		CoverLetter:      "Happy to help",
		Milestones: []service.MilestoneInput{
			{Title: "Design", Description: "Mockups", Amount: "1000", DueDate: dueIn(10)},
			{Title: "Build", Description: "Storefront", Amount: "2000", DueDate: dueIn(30)},
		},
	})
	if code != http.StatusCreated {
		t.Fatalf("submit proposal: %d %s", code, res.Error)
	}
	var proposal service.ProposalResponse
	decodeData(t, res, &proposal)

	code, res = e.do(t, http.MethodPost, "/api/proposals/"+proposal.ID+"/accept", company, nil)
	if code != http.StatusOK {
		t.Fatalf("accept: %d %s", code, res.Error)
	}
	var accepted service.AcceptProposalResponse
	decodeData(t, res, &accepted)

	approvePath := "/api/projects/" + accepted.ProjectID + "/milestones/approve"
	if code, res = e.do(t, http.MethodPost, approvePath, company, service.ApproveMilestonesRequest{Actor: model.ActorCompany}); code != http.StatusOK {
		t.Fatalf("company approve: %d %s", code, res.Error)
	}
	if code, res = e.do(t, http.MethodPost, approvePath, provider, service.ApproveMilestonesRequest{Actor: model.ActorProvider}); code != http.StatusOK {
		t.Fatalf("provider approve: %d %s", code, res.Error)
	}
	var set service.MilestoneSetResponse
	decodeData(t, res, &set)
	if !set.Approval.Locked {
		t.Fatalf("expected locked set, got %s", set.Approval.State)
	}
	return set
}

func TestRequiresAuthentication(t *testing.T) {
	env := newAPIEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/service-requests", "", service.CreateServiceRequestRequest{})
	if code != http.StatusUnauthorized {
		t.Fatalf("anonymous call = %d, want 401", code)
	}

	code, _ = env.do(t, http.MethodPost, "/api/service-requests", "not-a-jwt", service.CreateServiceRequestRequest{})
	if code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", code)
	}
}

func TestRoleGating(t *testing.T) {
	env := newAPIEnv(t)
	provider := token(t, env.providerID, middleware.RoleProvider)

	code, _ := env.do(t, http.MethodPost, "/api/service-requests", provider, service.CreateServiceRequestRequest{})
	if code != http.StatusForbidden {
		t.Fatalf("provider creating service request = %d, want 403", code)
	}

	code, _ = env.do(t, http.MethodPost, "/api/payments/"+uuid.NewString()+"/confirm-transfer", provider, service.ConfirmTransferRequest{TransferRef: "TRF-1"})
	if code != http.StatusForbidden {
		t.Fatalf("provider confirming transfer = %d, want 403", code)
	}
}

func TestValidationErrorsListFields(t *testing.T) {
	env := newAPIEnv(t)
	company := token(t, env.companyID, middleware.RoleCompany)

	code, res := env.do(t, http.MethodPost, "/api/service-requests", company, service.CreateServiceRequestRequest{
		BudgetMin: "900", BudgetMax: "100",
	})
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", code)
	}
	if len(res.Fields) < 3 {
		t.Fatalf("expected every failing field, got %+v", res.Fields)
	}
	if res.Status != "error" || res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected envelope %+v", res)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	env := newAPIEnv(t)
	provider := token(t, env.providerID, middleware.RoleProvider)

	code, _ := env.do(t, http.MethodPost, "/api/proposals", provider, map[string]interface{}{"bid_amount": "100"})
	if code != http.StatusBadRequest {
		t.Fatalf("missing service_request_id = %d, want 400", code)
	}
}

func TestStatusMapping(t *testing.T) {
	env := newAPIEnv(t)
	set := env.lockedProjectViaAPI(t)
	company := token(t, env.companyID, middleware.RoleCompany)
	admin := token(t, env.adminID, middleware.RoleAdmin)
	stranger := token(t, uuid.New(), middleware.RoleCompany)

	edit := service.EditMilestonesRequest{Milestones: []service.MilestoneInput{
		{Title: "All", Description: "Everything", Amount: "3000", DueDate: dueIn(30)},
	}}
	if code, _ := env.do(t, http.MethodPut, "/api/projects/"+set.ProjectID+"/milestones", company, edit); code != http.StatusConflict {
		t.Fatalf("edit after lock = %d, want 409", code)
	}
	if code, _ := env.do(t, http.MethodPut, "/api/projects/"+set.ProjectID+"/milestones", stranger, edit); code != http.StatusForbidden {
		t.Fatalf("edit by stranger = %d, want 403", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/projects/"+set.ProjectID+"/milestones", stranger, nil); code != http.StatusForbidden {
		t.Fatalf("read by stranger = %d, want 403", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/projects/"+set.ProjectID+"/payments", stranger, nil); code != http.StatusForbidden {
		t.Fatalf("payments read by stranger = %d, want 403", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/projects/"+set.ProjectID+"/payments", admin, nil); code != http.StatusOK {
		t.Fatalf("payments read by admin = %d, want 200", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/projects/"+uuid.NewString()+"/milestones", company, nil); code != http.StatusNotFound {
		t.Fatalf("unknown project = %d, want 404", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/payments/not-a-uuid", company, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid id = %d, want 422", code)
	}

	code, res := env.do(t, http.MethodPost, "/api/payments/"+uuid.NewString()+"/proof", admin, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("proof without file = %d (%s), want 400", code, res.Error)
	}
}

func TestSettlementWebhook(t *testing.T) {
	env := newAPIEnv(t)
	set := env.lockedProjectViaAPI(t)
	company := token(t, env.companyID, middleware.RoleCompany)
	m := set.Milestones[0]

	code, res := env.do(t, http.MethodPost, "/api/payments/"+m.ID+"/fund", company, service.FundMilestoneRequest{Amount: m.Amount})
	if code != http.StatusOK {
		t.Fatalf("fund: %d %s", code, res.Error)
	}
	var payment service.PaymentResponse
	decodeData(t, res, &payment)
	if payment.Status != model.PaymentPending {
		t.Fatalf("status = %s, want PENDING", payment.Status)
	}

	body := service.SettlementNotification{PaymentID: payment.ID}
	if code, _ := env.do(t, http.MethodPost, "/api/webhooks/settlement", "", body); code != http.StatusUnauthorized {
		t.Fatalf("missing secret = %d, want 401", code)
	}
	if code, _ := env.do(t, http.MethodPost, "/api/webhooks/settlement", "", body, SettlementSecretHeader, "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong secret = %d, want 401", code)
	}

	code, res = env.do(t, http.MethodPost, "/api/webhooks/settlement", "", body, SettlementSecretHeader, testWebhookSecret)
	if code != http.StatusOK {
		t.Fatalf("settlement: %d %s", code, res.Error)
	}
	decodeData(t, res, &payment)
	if payment.Status != model.PaymentEscrowed {
		t.Fatalf("status = %s, want ESCROWED", payment.Status)
	}
}

func TestConfirmTransferWithoutPayoutMethod(t *testing.T) {
	env := newAPIEnv(t)
	set := env.lockedProjectViaAPI(t)
	company := token(t, env.companyID, middleware.RoleCompany)
	admin := token(t, env.adminID, middleware.RoleAdmin)
	m := set.Milestones[0]

	code, res := env.do(t, http.MethodPost, "/api/payments/"+m.ID+"/fund", company, service.FundMilestoneRequest{Amount: m.Amount})
	if code != http.StatusOK {
		t.Fatalf("fund: %d %s", code, res.Error)
	}
	var payment service.PaymentResponse
	decodeData(t, res, &payment)

	steps := []struct {
		method, path, bearer string
		body                 interface{}
		headers              []string
	}{
		{http.MethodPost, "/api/webhooks/settlement", "", service.SettlementNotification{PaymentID: payment.ID}, []string{SettlementSecretHeader, testWebhookSecret}},
		{http.MethodPost, "/api/projects/" + set.ProjectID + "/milestones/" + m.ID + "/deliverable/approve", company, nil, nil},
		{http.MethodPost, "/api/payments/" + m.ID + "/release", company, nil, nil},
	}
	for _, s := range steps {
		if code, res := env.do(t, s.method, s.path, s.bearer, s.body, s.headers...); code != http.StatusOK {
			t.Fatalf("%s %s: %d %s", s.method, s.path, code, res.Error)
		}
	}

	path := "/api/payments/" + payment.ID + "/confirm-transfer"
	code, res = env.do(t, http.MethodPost, path, admin, service.ConfirmTransferRequest{TransferRef: "TRF-77"})
	if code != http.StatusPreconditionFailed {
		t.Fatalf("confirm without payout method = %d (%s), want 412", code, res.Error)
	}

	provider := token(t, env.providerID, middleware.RoleProvider)
	code, res = env.do(t, http.MethodPost, "/api/providers/"+env.providerID.String()+"/payout-methods", provider, service.RegisterPayoutMethodRequest{
		Type: model.PayoutBankAccount, Label: "Main", AccountRef: "NL91ABNA0417164300",
	})
	if code != http.StatusCreated {
		t.Fatalf("register payout method: %d %s", code, res.Error)
	}

	code, res = env.do(t, http.MethodPost, path, admin, service.ConfirmTransferRequest{TransferRef: "TRF-77"})
	if code != http.StatusOK {
		t.Fatalf("confirm: %d %s", code, res.Error)
	}
	decodeData(t, res, &payment)
	if payment.Status != model.PaymentTransferred || payment.BankTransferRef != "TRF-77" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestAuditLogsAreAdminOnly(t *testing.T) {
	env := newAPIEnv(t)
	set := env.lockedProjectViaAPI(t)
	admin := token(t, env.adminID, middleware.RoleAdmin)
	company := token(t, env.companyID, middleware.RoleCompany)

	if code, _ := env.do(t, http.MethodGet, "/api/audit-logs", company, nil); code != http.StatusForbidden {
		t.Fatalf("company reading audit logs = %d, want 403", code)
	}

	code, res := env.do(t, http.MethodGet, "/api/audit-logs?action="+model.ActionLockMilestones+"&entity_id="+set.ProjectID, admin, nil)
	if code != http.StatusOK {
		t.Fatalf("audit logs: %d %s", code, res.Error)
	}
	var page struct {
		Logs  []service.AuditLogResponse `json:"logs"`
		Total int64                      `json:"total"`
	}
	decodeData(t, res, &page)
	if page.Total != 1 || len(page.Logs) != 1 || page.Logs[0].UserID == "" {
		t.Fatalf("expected the single lock entry, got %+v", page)
	}
}
