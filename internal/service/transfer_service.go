package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"marketplace/internal/events"
	"marketplace/internal/lock"
	"marketplace/internal/metrics"
	"marketplace/internal/model"
	"marketplace/internal/repository"
	"marketplace/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ConfirmTransferRequest struct {
	TransferRef      string `json:"transfer_ref"`
	ProofDocumentRef string `json:"proof_document_ref"` // uploaded proof id or an absolute URL
}

type TransferProofResponse struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	DocumentURL string `json:"document_url"`
	FileName    string `json:"file_name"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// TransferService records the platform's outbound bank transfer to the provider.
type TransferService interface {
	UploadProof(ctx context.Context, paymentID string, actor Actor, file io.Reader, fileName string) (TransferProofResponse, error)
	ListProofs(ctx context.Context, paymentID string, actor Actor) ([]TransferProofResponse, error)
	ConfirmTransfer(ctx context.Context, paymentID string, actor Actor, req ConfirmTransferRequest) (PaymentResponse, error)
}

type transferService struct {
	projectRepo   repository.ProjectRepository
	milestoneRepo repository.MilestoneRepository
	paymentRepo   repository.PaymentRepository
	proofRepo     repository.TransferProofRepository
	payoutRepo    repository.PayoutMethodRepository
	auditRepo     repository.AuditRepository
	txManager     repository.TransactionManager
	store         storage.DocumentStore
	locker        lock.Locker
	publisher     events.Publisher
	logger        *zap.Logger
}

func NewTransferService(
	projectRepo repository.ProjectRepository,
	milestoneRepo repository.MilestoneRepository,
	paymentRepo repository.PaymentRepository,
	proofRepo repository.TransferProofRepository,
	payoutRepo repository.PayoutMethodRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	store storage.DocumentStore,
	locker lock.Locker,
	publisher events.Publisher,
	logger *zap.Logger,
) TransferService {
	return &transferService{
		projectRepo:   projectRepo,
		milestoneRepo: milestoneRepo,
		paymentRepo:   paymentRepo,
		proofRepo:     proofRepo,
		payoutRepo:    payoutRepo,
		auditRepo:     auditRepo,
		txManager:     txManager,
		store:         store,
		locker:        locker,
		publisher:     publisher,
		logger:        logger,
	}
}

// UploadProof stores a transfer receipt. The proof is kept even if the
// confirmation that cites it later fails.
func (s *transferService) UploadProof(ctx context.Context, paymentID string, actor Actor, file io.Reader, fileName string) (TransferProofResponse, error) {
	if !actor.IsAdmin() {
		return TransferProofResponse{}, &ForbiddenError{Reason: "only admins can upload transfer proofs"}
	}
	pid, err := parseID(paymentID, "payment_id")
	if err != nil {
		return TransferProofResponse{}, err
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if file == nil || fileName == "" || fileName == "." || fileName == "/" {
		v := &ValidationError{}
		v.Add("file", "a proof document is required")
		return TransferProofResponse{}, v
	}

	payment, err := s.paymentRepo.FindByID(ctx, pid)
	if err != nil {
		return TransferProofResponse{}, notFoundOr(err, "payment", paymentID)
	}
	if payment.Status == model.PaymentTransferred {
		return TransferProofResponse{}, &InvalidStateError{Entity: "payment", State: payment.Status, Op: "upload transfer proof"}
	}

	name := strings.TrimSuffix(fileName, path.Ext(fileName)) + "-" + uuid.NewString()[:8]
	doc, err := s.store.Upload(ctx, file, pid.String(), name)
	if errors.Is(err, storage.ErrNotConfigured) {
		return TransferProofResponse{}, &PreconditionError{Reason: "document storage is not configured"}
	}
	if err != nil {
		return TransferProofResponse{}, fmt.Errorf("failed to store transfer proof: %w", err)
	}

	proof := model.TransferProof{
		PaymentID:   pid,
		DocumentURL: doc.URL,
		PublicID:    doc.PublicID,
		FileName:    fileName,
		UploadedBy:  &actor.ID,
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.proofRepo.Create(txCtx, &proof); createErr != nil {
			return fmt.Errorf("failed to record transfer proof: %w", createErr)
		}
		return audit(txCtx, s.auditRepo, actor.ID, model.ActionUploadProof, proof.ID.String(), fileName, map[string]interface{}{
			"payment_id":   pid.String(),
			"document_url": doc.URL,
		})
	})
	if err != nil {
		return TransferProofResponse{}, err
	}

	s.logger.Info("transfer proof uploaded",
		zap.String("payment_id", pid.String()),
		zap.String("proof_id", proof.ID.String()),
	)
	return toTransferProofResponse(proof), nil
}

func (s *transferService) ListProofs(ctx context.Context, paymentID string, actor Actor) ([]TransferProofResponse, error) {
	if !actor.IsAdmin() {
		return nil, &ForbiddenError{Reason: "only admins can list transfer proofs"}
	}
	pid, err := parseID(paymentID, "payment_id")
	if err != nil {
		return nil, err
	}
	proofs, err := s.proofRepo.ListByPayment(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transfer proofs: %w", err)
	}
	res := make([]TransferProofResponse, 0, len(proofs))
	for _, p := range proofs {
		res = append(res, toTransferProofResponse(p))
	}
	return res, nil
}

// ConfirmTransfer marks a released payment as transferred to the provider.
// Every check runs before the first write; a failure leaves the ledger untouched.
func (s *transferService) ConfirmTransfer(ctx context.Context, paymentID string, actor Actor, req ConfirmTransferRequest) (PaymentResponse, error) {
	if !actor.IsAdmin() {
		return PaymentResponse{}, &ForbiddenError{Reason: "only admins can confirm transfers"}
	}
	pid, err := parseID(paymentID, "payment_id")
	if err != nil {
		return PaymentResponse{}, err
	}

	ref := strings.TrimSpace(req.TransferRef)
	proofRef := strings.TrimSpace(req.ProofDocumentRef)
	switch {
	case ref == "" && proofRef == "":
		v := &ValidationError{}
		v.Add("transfer_ref", "either transfer_ref or proof_document_ref is required")
		return PaymentResponse{}, v
	case ref != "" && proofRef != "":
		v := &ValidationError{}
		v.Add("proof_document_ref", "provide transfer_ref or proof_document_ref, not both")
		return PaymentResponse{}, v
	}

	existing, err := s.paymentRepo.FindByID(ctx, pid)
	if err != nil {
		return PaymentResponse{}, notFoundOr(err, "payment", paymentID)
	}
	unlock, err := s.locker.Lock(ctx, projectLockKey(existing.ProjectID))
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("failed to acquire project lock: %w", err)
	}
	defer unlock()

	var (
		payment   *model.Payment
		completed bool
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		p, findErr := s.paymentRepo.FindByIDForUpdate(txCtx, pid)
		if findErr != nil {
			return notFoundOr(findErr, "payment", paymentID)
		}
		payment = p
		if p.Status != model.PaymentReleased {
			return &InvalidStateError{Entity: "payment", State: p.Status, Op: "confirm transfer"}
		}

		transferRef, transferStatus := ref, model.BankTransferReference
		if proofRef != "" {
			docURL, resolveErr := s.resolveProof(txCtx, p.ID, proofRef)
			if resolveErr != nil {
				return resolveErr
			}
			transferRef, transferStatus = docURL, model.BankTransferProofDocument
		}

		count, countErr := s.payoutRepo.CountByProvider(txCtx, p.ProviderID)
		if countErr != nil {
			return fmt.Errorf("failed to check payout methods: %w", countErr)
		}
		if count == 0 {
			return &PreconditionError{Reason: "provider has no payout method on file"}
		}

		m, findErr := s.milestoneRepo.FindByIDForUpdate(txCtx, p.MilestoneID)
		if findErr != nil {
			return notFoundOr(findErr, "milestone", p.MilestoneID.String())
		}

		now := time.Now()
		p.Status = model.PaymentTransferred
		p.BankTransferRef = transferRef
		p.BankTransferStatus = transferStatus
		p.TransferredAt = &now
		p.TransferredBy = &actor.ID
		if updErr := s.paymentRepo.Update(txCtx, p); updErr != nil {
			return fmt.Errorf("failed to update payment: %w", updErr)
		}

		m.Status = model.MilestonePaid
		if updErr := s.milestoneRepo.UpdateStatus(txCtx, m); updErr != nil {
			return fmt.Errorf("failed to update milestone: %w", updErr)
		}

		remaining, countErr := s.milestoneRepo.CountNotInStatus(txCtx, p.ProjectID, model.MilestonePaid)
		if countErr != nil {
			return fmt.Errorf("failed to check project completion: %w", countErr)
		}
		if remaining == 0 {
			if updErr := s.projectRepo.UpdateStatus(txCtx, p.ProjectID, model.ProjectCompleted); updErr != nil {
				return fmt.Errorf("failed to complete project: %w", updErr)
			}
			completed = true
		}

		return audit(txCtx, s.auditRepo, actor.ID, model.ActionConfirmTransfer, p.ID.String(), m.Title, map[string]interface{}{
			"bank_transfer_ref":    transferRef,
			"bank_transfer_status": transferStatus,
			"project_completed":    completed,
		})
	})
	if err != nil {
		recordRejection("confirm_transfer", err)
		return PaymentResponse{}, err
	}

	metrics.IncPaymentTransition(model.PaymentTransferred)
	s.logger.Info("transfer confirmed",
		zap.String("project_id", payment.ProjectID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Bool("project_completed", completed),
	)
	publishEvent(ctx, s.publisher, s.logger, events.Event{
		Type:      events.PaymentTransferred,
		ProjectID: payment.ProjectID.String(),
		EntityID:  payment.ID.String(),
		ActorID:   actor.ID.String(),
		Data: map[string]interface{}{
			"bank_transfer_status": payment.BankTransferStatus,
			"project_completed":    completed,
		},
	})

	return toPaymentResponse(*payment), nil
}

// resolveProof returns the document URL a proof reference points at. The
// reference is an uploaded proof id for this payment or an absolute http(s) URL.
func (s *transferService) resolveProof(ctx context.Context, paymentID uuid.UUID, raw string) (string, error) {
	invalid := func(format string, args ...interface{}) error {
		v := &ValidationError{}
		v.Add("proof_document_ref", format, args...)
		return v
	}

	if id, err := uuid.Parse(raw); err == nil {
		proof, findErr := s.proofRepo.FindByID(ctx, id)
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			return "", invalid("transfer proof %s does not exist", raw)
		}
		if findErr != nil {
			return "", fmt.Errorf("failed to load transfer proof: %w", findErr)
		}
		if proof.PaymentID != paymentID {
			return "", invalid("transfer proof %s belongs to another payment", raw)
		}
		return proof.DocumentURL, nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalid("proof_document_ref must be an uploaded proof id or an absolute http(s) URL")
	}
	return u.String(), nil
}

func toTransferProofResponse(p model.TransferProof) TransferProofResponse {
	resp := TransferProofResponse{
		ID:          p.ID.String(),
		PaymentID:   p.PaymentID.String(),
		DocumentURL: p.DocumentURL,
		FileName:    p.FileName,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
	if p.UploadedBy != nil {
		resp.UploadedBy = p.UploadedBy.String()
	}
	return resp
}
