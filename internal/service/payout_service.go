package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/model"
	"marketplace/internal/repository"

	"github.com/google/uuid"
)

type RegisterPayoutMethodRequest struct {
	Type       string `json:"type"` // BANK_ACCOUNT or WALLET
	Label      string `json:"label"`
	AccountRef string `json:"account_ref"`
}

type PayoutMethodResponse struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Type       string `json:"type"`
	Label      string `json:"label"`
	AccountRef string `json:"account_ref"` // masked
	CreatedAt  string `json:"created_at"`
}

type PayoutService interface {
	RegisterPayoutMethod(ctx context.Context, providerID string, actor Actor, req RegisterPayoutMethodRequest) (PayoutMethodResponse, error)
	ListPayoutMethods(ctx context.Context, providerID string, actor Actor) ([]PayoutMethodResponse, error)
}

type payoutService struct {
	payoutRepo repository.PayoutMethodRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
}

func NewPayoutService(payoutRepo repository.PayoutMethodRepository, auditRepo repository.AuditRepository, txManager repository.TransactionManager) PayoutService {
	return &payoutService{payoutRepo: payoutRepo, auditRepo: auditRepo, txManager: txManager}
}

func (s *payoutService) RegisterPayoutMethod(ctx context.Context, providerID string, actor Actor, req RegisterPayoutMethodRequest) (PayoutMethodResponse, error) {
	pid, err := s.authorize(providerID, actor)
	if err != nil {
		return PayoutMethodResponse{}, err
	}

	v := &ValidationError{}
	methodType := strings.ToUpper(strings.TrimSpace(req.Type))
	if methodType != model.PayoutBankAccount && methodType != model.PayoutWallet {
		v.Add("type", "type must be %s or %s", model.PayoutBankAccount, model.PayoutWallet)
	}
	accountRef := strings.TrimSpace(req.AccountRef)
	if accountRef == "" {
		v.Add("account_ref", "account_ref is required")
	}
	if err := v.Err(); err != nil {
		return PayoutMethodResponse{}, err
	}

	method := model.PayoutMethod{
		ProviderID: pid,
		Type:       methodType,
		Label:      strings.TrimSpace(req.Label),
		AccountRef: accountRef,
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.payoutRepo.Create(txCtx, &method); createErr != nil {
			return fmt.Errorf("failed to register payout method: %w", createErr)
		}
		return audit(txCtx, s.auditRepo, actor.ID, model.ActionAddPayoutMethod, method.ID.String(), method.Label, map[string]interface{}{
			"provider_id": pid.String(),
			"type":        methodType,
		})
	})
	if err != nil {
		return PayoutMethodResponse{}, err
	}

	return toPayoutMethodResponse(method), nil
}

func (s *payoutService) ListPayoutMethods(ctx context.Context, providerID string, actor Actor) ([]PayoutMethodResponse, error) {
	pid, err := s.authorize(providerID, actor)
	if err != nil {
		return nil, err
	}

	methods, err := s.payoutRepo.ListByProvider(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payout methods: %w", err)
	}
	res := make([]PayoutMethodResponse, 0, len(methods))
	for _, m := range methods {
		res = append(res, toPayoutMethodResponse(m))
	}
	return res, nil
}

// authorize allows the provider itself and admins.
func (s *payoutService) authorize(providerID string, actor Actor) (uuid.UUID, error) {
	pid, err := parseID(providerID, "provider_id")
	if err != nil {
		return uuid.Nil, err
	}
	if actor.ID != pid && !actor.IsAdmin() {
		return uuid.Nil, &ForbiddenError{Reason: "payout methods belong to the provider"}
	}
	return pid, nil
}

func maskAccountRef(ref string) string {
	if len(ref) <= 4 {
		return strings.Repeat("*", len(ref))
	}
	return strings.Repeat("*", len(ref)-4) + ref[len(ref)-4:]
}

func toPayoutMethodResponse(m model.PayoutMethod) PayoutMethodResponse {
	return PayoutMethodResponse{
		ID:         m.ID.String(),
		ProviderID: m.ProviderID.String(),
		Type:       m.Type,
		Label:      m.Label,
		AccountRef: maskAccountRef(m.AccountRef),
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}
