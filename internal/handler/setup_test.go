package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace/internal/database"
	"marketplace/internal/events"
	"marketplace/internal/lock"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testJWTSecret     = "handler-test-secret"
	testWebhookSecret = "settle-me"
)

type apiEnv struct {
	router     *gin.Engine
	companyID  uuid.UUID
	providerID uuid.UUID
	adminID    uuid.UUID
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zap.NewNop()
	locker := lock.NewKeyedMutex()
	pub := events.Nop{}

	txManager := repository.NewTransactionManager(db)
	srRepo := repository.NewServiceRequestRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	milestoneRepo := repository.NewMilestoneRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	payoutRepo := repository.NewPayoutMethodRepository(db)
	proofRepo := repository.NewTransferProofRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	escrowOpts := service.EscrowOptions{FeeRate: decimal.RequireFromString("0.10"), AutoConfirm: false}
	proposals := service.NewProposalService(srRepo, proposalRepo, projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, pub, log)
	milestones := service.NewMilestoneService(projectRepo, milestoneRepo, approvalRepo, auditRepo, txManager, locker, pub, log)
	escrow := service.NewEscrowService(projectRepo, milestoneRepo, approvalRepo, paymentRepo, auditRepo, txManager, locker, pub, log, escrowOpts)
	transfers := service.NewTransferService(projectRepo, milestoneRepo, paymentRepo, proofRepo, payoutRepo, auditRepo, txManager, storage.Disabled{}, locker, pub, log)
	payouts := service.NewPayoutService(payoutRepo, auditRepo, txManager)

	auth := middleware.NewAuth(testJWTSecret)
	router := gin.New()
	api := router.Group("")
	NewProposalHandler(proposals, auth).RegisterRoutes(api)
	NewMilestoneHandler(milestones, auth).RegisterRoutes(api)
	NewPaymentHandler(escrow, transfers, auth, testWebhookSecret).RegisterRoutes(api)
	NewPayoutHandler(payouts, auth).RegisterRoutes(api)
	NewAuditHandler(service.NewAuditService(auditRepo), auth).RegisterRoutes(api)

	return &apiEnv{router: router, companyID: uuid.New(), providerID: uuid.New(), adminID: uuid.New()}
}

func token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type apiResponse struct {
	Status     string               `json:"status"`
	StatusCode int                  `json:"status_code"`
	Data       json.RawMessage      `json:"data"`
	Error      string               `json:"error"`
	Fields     []service.FieldError `json:"fields"`
}

// do sends body as JSON; bearer may be empty for anonymous calls.
func (e *apiEnv) do(t *testing.T, method, path, bearer string, body interface{}, headers ...string) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var res apiResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, res
}

func decodeData(t *testing.T, res apiResponse, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(res.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", res.Data, err)
	}
}
