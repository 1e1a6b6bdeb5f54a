package service

import (
	"context"
	"testing"

	"marketplace/internal/model"

	"github.com/google/uuid"
)

func TestRegisterPayoutMethodMasksAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	method, err := env.payouts.RegisterPayoutMethod(ctx, env.providerID.String(), env.provider(), RegisterPayoutMethodRequest{
		Type:       "wallet",
		Label:      "Payout wallet",
		AccountRef: "wallet-12345678",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if method.Type != model.PayoutWallet {
		t.Fatalf("type = %s", method.Type)
	}
	if method.AccountRef != "***********5678" {
		t.Fatalf("account ref not masked: %s", method.AccountRef)
	}

	methods, err := env.payouts.ListPayoutMethods(ctx, env.providerID.String(), env.admin)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(methods) != 1 || methods[0].ID != method.ID {
		t.Fatalf("unexpected list %+v", methods)
	}
	if env.auditCount(t, model.ActionAddPayoutMethod, method.ID) != 1 {
		t.Fatalf("registration was not audited")
	}
}

func TestRegisterPayoutMethodValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payouts.RegisterPayoutMethod(context.Background(), env.providerID.String(), env.provider(), RegisterPayoutMethodRequest{
		Type: "CHEQUE",
	})
	ve := requireValidation(t, err, "type", "account_ref")
	if len(ve.Fields) != 2 {
		t.Fatalf("expected 2 failing fields, got %v", ve.Fields)
	}
}

func TestPayoutMethodsBelongToProvider(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stranger := Actor{ID: uuid.New(), Role: model.RoleProvider}

	_, err := env.payouts.RegisterPayoutMethod(ctx, env.providerID.String(), stranger, RegisterPayoutMethodRequest{
		Type: model.PayoutBankAccount, AccountRef: "DE00",
	})
	requireErrorAs[*ForbiddenError](t, err)

	_, err = env.payouts.ListPayoutMethods(ctx, env.providerID.String(), env.company())
	requireErrorAs[*ForbiddenError](t, err)
}

func TestMaskAccountRef(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"1234":       "****",
		"12345":      "*2345",
		"GB29NWBK60": "******BK60",
	}
	for in, want := range cases {
		if got := maskAccountRef(in); got != want {
			t.Errorf("maskAccountRef(%q) = %q, want %q", in, got, want)
		}
	}
}
