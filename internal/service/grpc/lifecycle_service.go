package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderflow/internal/api"
	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

// Lifecycle — операции движка, которые публикует gRPC API.
type Lifecycle interface {
	CreateTransaction(ctx context.Context, in lifecycle.CreateTransactionInput) (domain.Transaction, error)
	GetTransactionView(ctx context.Context, transactionID string, audience lifecycle.Audience) (lifecycle.TransactionView, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Cancel(ctx context.Context, transactionID, reason string) (domain.Transaction, error)
	CanCreatePaymentForTransaction(ctx context.Context, transactionID string) (lifecycle.Eligibility, error)
	CreatePayment(ctx context.Context, in lifecycle.CreatePaymentInput) (domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, next domain.PaymentStatus, approval *domain.Approval) (domain.Payment, error)
	ReviewPayment(ctx context.Context, paymentID string, approve bool, approval domain.Approval) (domain.Payment, error)
	ActivateServicesAfterPaymentUpdate(ctx context.Context, transactionID string) (lifecycle.ActivationResult, error)
	RetryActivation(ctx context.Context, transactionID, reason string) (lifecycle.ActivationResult, error)
	UpdateDeliveryStatus(ctx context.Context, deliveryID string, next domain.DeliveryStatus) (domain.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, transactionID string) ([]domain.DeliveryRecord, error)
	MarkChildSuccess(ctx context.Context, transactionID string, kind domain.LineKind, lineID string) (domain.TransactionStatus, error)
	AutoExpire(ctx context.Context, scope lifecycle.Scope) (lifecycle.ExpireResult, error)
}

const defaultCancelReason = "cancelled by request"

// LifecycleService реализует gRPC API поверх движка жизненного цикла.
type LifecycleService struct {
	engine   Lifecycle
	idemRepo domain.IdempotencyRepository
	logger   *log.Entry
}

var _ LifecycleServer = (*LifecycleService)(nil)

// NewLifecycleService конструирует сервис. idemRepo может быть nil: тогда
// мутирующие вызовы выполняются без idempotency-key.
func NewLifecycleService(engine Lifecycle, idemRepo domain.IdempotencyRepository, logger *log.Entry) *LifecycleService {
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle-grpc")
	}
	return &LifecycleService{
		engine:   engine,
		idemRepo: idemRepo,
		logger:   logger,
	}
}

// CreateTransaction оформляет заказ.
func (s *LifecycleService) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*TransactionResponse, error) {
	return withIdempotency(s, ctx, methodCreateTransaction, req, func(ctx context.Context) (*TransactionResponse, error) {
		trx, err := s.engine.CreateTransaction(ctx, req.CreateTransactionInput)
		if err != nil {
			return nil, s.toStatus(err, "create transaction")
		}
		return &TransactionResponse{Transaction: api.FromTransaction(trx)}, nil
	})
}

// GetTransaction возвращает представление заказа для клиента или администратора.
func (s *LifecycleService) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*TransactionViewResponse, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, status.Error(codes.InvalidArgument, "transaction_id is required")
	}
	audience := lifecycle.AudienceCustomer
	if req.Admin {
		audience = lifecycle.AudienceAdmin
	}
	view, err := s.engine.GetTransactionView(ctx, req.TransactionID, audience)
	if err != nil {
		return nil, s.toStatus(err, "get transaction")
	}
	return &TransactionViewResponse{TransactionView: api.FromView(view)}, nil
}

// ListTransactions возвращает историю заказов клиента, новые первыми.
func (s *LifecycleService) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}
	list, err := s.engine.ListTransactions(ctx, req.UserID, req.Limit)
	if err != nil {
		return nil, s.toStatus(err, "list transactions")
	}
	resp := &ListTransactionsResponse{Transactions: make([]api.Transaction, 0, len(list))}
	for _, trx := range list {
		resp.Transactions = append(resp.Transactions, api.FromTransaction(trx))
	}
	return resp, nil
}

// CancelTransaction отменяет незавершённый заказ.
func (s *LifecycleService) CancelTransaction(ctx context.Context, req *CancelTransactionRequest) (*TransactionResponse, error) {
	return withIdempotency(s, ctx, methodCancelTransaction, req, func(ctx context.Context) (*TransactionResponse, error) {
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = defaultCancelReason
		}
		trx, err := s.engine.Cancel(ctx, req.TransactionID, reason)
		if err != nil {
			return nil, s.toStatus(err, "cancel transaction")
		}
		return &TransactionResponse{Transaction: api.FromTransaction(trx)}, nil
	})
}

// CanCreatePayment проверяет, можно ли создать новый платёж.
func (s *LifecycleService) CanCreatePayment(ctx context.Context, req *CanCreatePaymentRequest) (*CanCreatePaymentResponse, error) {
	res, err := s.engine.CanCreatePaymentForTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, s.toStatus(err, "check payment eligibility")
	}
	return &CanCreatePaymentResponse{Allowed: res.Allowed, Reason: res.Reason}, nil
}

// CreatePayment создаёт платёж и переводит заказ в pending.
func (s *LifecycleService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResponse, error) {
	return withIdempotency(s, ctx, methodCreatePayment, req, func(ctx context.Context) (*PaymentResponse, error) {
		p, err := s.engine.CreatePayment(ctx, req.CreatePaymentInput)
		if err != nil {
			return nil, s.toStatus(err, "create payment")
		}
		return &PaymentResponse{Payment: api.FromPayment(p)}, nil
	})
}

// UpdatePaymentStatus применяет статус платежа от шлюза или администратора.
func (s *LifecycleService) UpdatePaymentStatus(ctx context.Context, req *UpdatePaymentStatusRequest) (*PaymentResponse, error) {
	next := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown payment status %q", req.Status)
	}
	var approval *domain.Approval
	if req.AdminUserID != "" {
		approval = &domain.Approval{AdminUserID: req.AdminUserID, Notes: req.Notes}
	}
	p, err := s.engine.UpdatePaymentStatus(ctx, req.PaymentID, next, approval)
	if err != nil {
		return nil, s.toStatus(err, "update payment status")
	}
	return &PaymentResponse{Payment: api.FromPayment(p)}, nil
}

// ReviewPayment подтверждает или отклоняет ручной платёж.
func (s *LifecycleService) ReviewPayment(ctx context.Context, req *ReviewPaymentRequest) (*PaymentResponse, error) {
	p, err := s.engine.ReviewPayment(ctx, req.PaymentID, req.Approve, domain.Approval{
		AdminUserID: req.AdminUserID,
		Notes:       req.Notes,
	})
	if err != nil {
		return nil, s.toStatus(err, "review payment")
	}
	return &PaymentResponse{Payment: api.FromPayment(p)}, nil
}

// ActivateServices синхронно запускает активацию услуг оплаченного заказа.
// Повторный вызов безопасен и возвращает холостой результат.
func (s *LifecycleService) ActivateServices(ctx context.Context, req *ActivateServicesRequest) (*ActivateServicesResponse, error) {
	res, err := s.engine.ActivateServicesAfterPaymentUpdate(ctx, req.TransactionID)
	if err != nil {
		return nil, s.toStatus(err, "activate services")
	}
	return activationResponse(res), nil
}

// RetryActivation повторяет активацию WhatsApp-позиции после сбоя продления.
func (s *LifecycleService) RetryActivation(ctx context.Context, req *RetryActivationRequest) (*ActivateServicesResponse, error) {
	res, err := s.engine.RetryActivation(ctx, req.TransactionID, strings.TrimSpace(req.Reason))
	if err != nil {
		return nil, s.toStatus(err, "retry activation")
	}
	return activationResponse(res), nil
}

func activationResponse(res lifecycle.ActivationResult) *ActivateServicesResponse {
	return &ActivateServicesResponse{
		Success:   res.Success,
		Reason:    res.Reason,
		Activated: res.Activated,
		Failed:    res.Failed,
		Status:    string(res.Status),
	}
}

// UpdateDeliveryStatus продвигает запись доставки вперёд.
func (s *LifecycleService) UpdateDeliveryStatus(ctx context.Context, req *UpdateDeliveryStatusRequest) (*DeliveryResponse, error) {
	next := domain.DeliveryStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !next.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown delivery status %q", req.Status)
	}
	rec, err := s.engine.UpdateDeliveryStatus(ctx, req.DeliveryID, next)
	if err != nil {
		return nil, s.toStatus(err, "update delivery status")
	}
	return &DeliveryResponse{Delivery: api.FromDelivery(rec)}, nil
}

// ListDeliveries возвращает записи доставки заказа.
func (s *LifecycleService) ListDeliveries(ctx context.Context, req *ListDeliveriesRequest) (*ListDeliveriesResponse, error) {
	records, err := s.engine.ListDeliveries(ctx, req.TransactionID)
	if err != nil {
		return nil, s.toStatus(err, "list deliveries")
	}
	return &ListDeliveriesResponse{Deliveries: api.FromDeliveries(records)}, nil
}

// MarkLineSuccess отмечает позицию выполненной и возвращает агрегатный статус.
func (s *LifecycleService) MarkLineSuccess(ctx context.Context, req *MarkLineSuccessRequest) (*MarkLineSuccessResponse, error) {
	st, err := s.engine.MarkChildSuccess(ctx, req.TransactionID, domain.LineKind(req.Kind), req.LineID)
	if err != nil {
		return nil, s.toStatus(err, "mark line success")
	}
	return &MarkLineSuccessResponse{Status: string(st)}, nil
}

// SweepExpired применяет истечение сроков к одной записи или ко всем просроченным.
func (s *LifecycleService) SweepExpired(ctx context.Context, req *SweepExpiredRequest) (*SweepExpiredResponse, error) {
	res, err := s.engine.AutoExpire(ctx, lifecycle.Scope{TransactionID: req.TransactionID, PaymentID: req.PaymentID})
	if err != nil {
		return nil, s.toStatus(err, "sweep expired")
	}
	return &SweepExpiredResponse{Payments: res.Payments, Transactions: res.Transactions}, nil
}
