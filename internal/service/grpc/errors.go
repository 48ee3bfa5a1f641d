package grpcsvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// toStatus переводит доменную ошибку в gRPC-статус. Неизвестные ошибки
// логируются и скрываются за codes.Internal.
func (s *LifecycleService) toStatus(err error, operation string) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}

	code := codeOf(err)
	if code == codes.Internal {
		s.logger.WithError(err).WithField("operation", operation).Error("request failed")
		return status.Errorf(codes.Internal, "failed to %s", operation)
	}
	return status.Error(code, err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case domain.IsNotFound(err):
		return codes.NotFound
	case domain.IsValidation(err):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrPaymentNotAllowed),
		errors.Is(err, domain.ErrPendingPaymentExists):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrAlreadyExists):
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
