package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "orderflow.v1.LifecycleService"

const (
	methodCreateTransaction    = "/" + ServiceName + "/CreateTransaction"
	methodGetTransaction       = "/" + ServiceName + "/GetTransaction"
	methodListTransactions     = "/" + ServiceName + "/ListTransactions"
	methodCancelTransaction    = "/" + ServiceName + "/CancelTransaction"
	methodCanCreatePayment     = "/" + ServiceName + "/CanCreatePayment"
	methodCreatePayment        = "/" + ServiceName + "/CreatePayment"
	methodUpdatePaymentStatus  = "/" + ServiceName + "/UpdatePaymentStatus"
	methodReviewPayment        = "/" + ServiceName + "/ReviewPayment"
	methodActivateServices     = "/" + ServiceName + "/ActivateServices"
	methodRetryActivation      = "/" + ServiceName + "/RetryActivation"
	methodUpdateDeliveryStatus = "/" + ServiceName + "/UpdateDeliveryStatus"
	methodListDeliveries       = "/" + ServiceName + "/ListDeliveries"
	methodMarkLineSuccess      = "/" + ServiceName + "/MarkLineSuccess"
	methodSweepExpired         = "/" + ServiceName + "/SweepExpired"
)

// LifecycleServer — серверная сторона orderflow.v1.LifecycleService.
type LifecycleServer interface {
	CreateTransaction(context.Context, *CreateTransactionRequest) (*TransactionResponse, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*TransactionViewResponse, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsResponse, error)
	CancelTransaction(context.Context, *CancelTransactionRequest) (*TransactionResponse, error)
	CanCreatePayment(context.Context, *CanCreatePaymentRequest) (*CanCreatePaymentResponse, error)
	CreatePayment(context.Context, *CreatePaymentRequest) (*PaymentResponse, error)
	UpdatePaymentStatus(context.Context, *UpdatePaymentStatusRequest) (*PaymentResponse, error)
	ReviewPayment(context.Context, *ReviewPaymentRequest) (*PaymentResponse, error)
	ActivateServices(context.Context, *ActivateServicesRequest) (*ActivateServicesResponse, error)
	RetryActivation(context.Context, *RetryActivationRequest) (*ActivateServicesResponse, error)
	UpdateDeliveryStatus(context.Context, *UpdateDeliveryStatusRequest) (*DeliveryResponse, error)
	ListDeliveries(context.Context, *ListDeliveriesRequest) (*ListDeliveriesResponse, error)
	MarkLineSuccess(context.Context, *MarkLineSuccessRequest) (*MarkLineSuccessResponse, error)
	SweepExpired(context.Context, *SweepExpiredRequest) (*SweepExpiredResponse, error)
}

// ServiceDesc описывает сервис для grpc.Server. Сообщения кодируются JSON-кодеком.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LifecycleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateTransaction", methodCreateTransaction, LifecycleServer.CreateTransaction),
		unary("GetTransaction", methodGetTransaction, LifecycleServer.GetTransaction),
		unary("ListTransactions", methodListTransactions, LifecycleServer.ListTransactions),
		unary("CancelTransaction", methodCancelTransaction, LifecycleServer.CancelTransaction),
		unary("CanCreatePayment", methodCanCreatePayment, LifecycleServer.CanCreatePayment),
		unary("CreatePayment", methodCreatePayment, LifecycleServer.CreatePayment),
		unary("UpdatePaymentStatus", methodUpdatePaymentStatus, LifecycleServer.UpdatePaymentStatus),
		unary("ReviewPayment", methodReviewPayment, LifecycleServer.ReviewPayment),
		unary("ActivateServices", methodActivateServices, LifecycleServer.ActivateServices),
		unary("RetryActivation", methodRetryActivation, LifecycleServer.RetryActivation),
		unary("UpdateDeliveryStatus", methodUpdateDeliveryStatus, LifecycleServer.UpdateDeliveryStatus),
		unary("ListDeliveries", methodListDeliveries, LifecycleServer.ListDeliveries),
		unary("MarkLineSuccess", methodMarkLineSuccess, LifecycleServer.MarkLineSuccess),
		unary("SweepExpired", methodSweepExpired, LifecycleServer.SweepExpired),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orderflow/v1/lifecycle",
}

// RegisterLifecycleServer регистрирует реализацию на сервере.
func RegisterLifecycleServer(registrar grpc.ServiceRegistrar, srv LifecycleServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func unary[Req, Resp any](name, fullMethod string, call func(LifecycleServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(LifecycleServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LifecycleClient — клиент orderflow.v1.LifecycleService.
type LifecycleClient struct {
	cc grpc.ClientConnInterface
}

// NewLifecycleClient создаёт клиента поверх соединения.
func NewLifecycleClient(cc grpc.ClientConnInterface) *LifecycleClient {
	return &LifecycleClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LifecycleClient) CreateTransaction(ctx context.Context, in *CreateTransactionRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	return invoke[TransactionResponse](ctx, c.cc, methodCreateTransaction, in, opts)
}

func (c *LifecycleClient) GetTransaction(ctx context.Context, in *GetTransactionRequest, opts ...grpc.CallOption) (*TransactionViewResponse, error) {
	return invoke[TransactionViewResponse](ctx, c.cc, methodGetTransaction, in, opts)
}

func (c *LifecycleClient) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, c.cc, methodListTransactions, in, opts)
}

func (c *LifecycleClient) CancelTransaction(ctx context.Context, in *CancelTransactionRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	return invoke[TransactionResponse](ctx, c.cc, methodCancelTransaction, in, opts)
}

func (c *LifecycleClient) CanCreatePayment(ctx context.Context, in *CanCreatePaymentRequest, opts ...grpc.CallOption) (*CanCreatePaymentResponse, error) {
	return invoke[CanCreatePaymentResponse](ctx, c.cc, methodCanCreatePayment, in, opts)
}

func (c *LifecycleClient) CreatePayment(ctx context.Context, in *CreatePaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, methodCreatePayment, in, opts)
}

func (c *LifecycleClient) UpdatePaymentStatus(ctx context.Context, in *UpdatePaymentStatusRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, methodUpdatePaymentStatus, in, opts)
}

func (c *LifecycleClient) ReviewPayment(ctx context.Context, in *ReviewPaymentRequest, opts ...grpc.CallOption) (*PaymentResponse, error) {
	return invoke[PaymentResponse](ctx, c.cc, methodReviewPayment, in, opts)
}

func (c *LifecycleClient) ActivateServices(ctx context.Context, in *ActivateServicesRequest, opts ...grpc.CallOption) (*ActivateServicesResponse, error) {
	return invoke[ActivateServicesResponse](ctx, c.cc, methodActivateServices, in, opts)
}

func (c *LifecycleClient) RetryActivation(ctx context.Context, in *RetryActivationRequest, opts ...grpc.CallOption) (*ActivateServicesResponse, error) {
	return invoke[ActivateServicesResponse](ctx, c.cc, methodRetryActivation, in, opts)
}

func (c *LifecycleClient) UpdateDeliveryStatus(ctx context.Context, in *UpdateDeliveryStatusRequest, opts ...grpc.CallOption) (*DeliveryResponse, error) {
	return invoke[DeliveryResponse](ctx, c.cc, methodUpdateDeliveryStatus, in, opts)
}

func (c *LifecycleClient) ListDeliveries(ctx context.Context, in *ListDeliveriesRequest, opts ...grpc.CallOption) (*ListDeliveriesResponse, error) {
	return invoke[ListDeliveriesResponse](ctx, c.cc, methodListDeliveries, in, opts)
}

func (c *LifecycleClient) MarkLineSuccess(ctx context.Context, in *MarkLineSuccessRequest, opts ...grpc.CallOption) (*MarkLineSuccessResponse, error) {
	return invoke[MarkLineSuccessResponse](ctx, c.cc, methodMarkLineSuccess, in, opts)
}

func (c *LifecycleClient) SweepExpired(ctx context.Context, in *SweepExpiredRequest, opts ...grpc.CallOption) (*SweepExpiredResponse, error) {
	return invoke[SweepExpiredResponse](ctx, c.cc, methodSweepExpired, in, opts)
}
