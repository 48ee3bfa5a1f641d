package grpcsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// IdempotencyKeyHeader — metadata-ключ для мутирующих вызовов.
const IdempotencyKeyHeader = "idempotency-key"

const replayFailureMessage = "previous request with the same idempotency key failed"

// failurePayload — сохранённое сообщение ошибки; код хранится в ResultCode записи.
type failurePayload struct {
	Message string `json:"message"`
}

// withIdempotency выполняет handler не более одного раза на idempotency-key.
// Повтор с тем же телом получает сохранённый ответ или сохранённую ошибку.
func withIdempotency[T any](
	s *LifecycleService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.idemRepo == nil {
		return handler(ctx)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := requestHash(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "request body is required")
	}

	logger := s.logger.WithFields(log.Fields{"method": method, "idempotency_key": key})
	record, err := s.idemRepo.Claim(ctx, domain.IdempotencyRecord{
		Key:         key,
		Method:      method,
		RequestHash: hash,
		ExpiresAt:   time.Now().UTC().Add(domain.DefaultIdempotencyTTL),
	})
	if err != nil {
		if !domain.IsIdempotencyConflict(err) {
			logger.WithError(err).Warn("claim idempotency key")
			return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
		}
		return replayIdempotency[T](s, err, record)
	}

	resp, runErr := handler(ctx)
	if runErr != nil {
		st := status.Convert(runErr)
		body, _ := json.Marshal(failurePayload{Message: st.Message()})
		if err := s.idemRepo.Complete(ctx, key, domain.IdempotencyStatusFailed, body, int(st.Code())); err != nil {
			logger.WithError(err).Warn("store idempotent failure")
		}
		return nil, runErr
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = s.idemRepo.Complete(ctx, key, domain.IdempotencyStatusDone, body, int(codes.OK))
	}
	if err != nil {
		logger.WithError(err).Warn("store idempotent response")
	}
	return resp, nil
}

func replayIdempotency[T any](s *LifecycleService, conflict error, record domain.IdempotencyRecord) (*T, error) {
	if errors.Is(conflict, domain.ErrIdempotencyHashMismatch) {
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	}
	if !errors.Is(conflict, domain.ErrIdempotencyKeyAlreadyExists) {
		s.logger.WithError(conflict).Warn("claim idempotency key")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case domain.IdempotencyStatusFailed:
		return nil, decodeIdempotencyFailure(record)
	case domain.IdempotencyStatusDone:
		resp := new(T)
		if len(record.Response) == 0 || json.Unmarshal(record.Response, resp) != nil {
			s.logger.WithField("idempotency_key", record.Key).Warn("cached idempotent response is unreadable")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	}
	return nil, status.Error(codes.Internal, "unknown idempotency record status")
}

// decodeIdempotencyFailure восстанавливает ошибку первого вызова; OK и неизвестные коды
// превращаются в Internal.
func decodeIdempotencyFailure(record domain.IdempotencyRecord) error {
	code := codes.Internal
	if record.ResultCode > int(codes.OK) && record.ResultCode <= int(codes.Unauthenticated) {
		code = codes.Code(uint32(record.ResultCode)) //nolint:gosec // range checked above
	}

	msg := replayFailureMessage
	var payload failurePayload
	if json.Unmarshal(record.Response, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	return status.Error(code, msg)
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get(IdempotencyKeyHeader) {
		if key := strings.TrimSpace(v); key != "" {
			return key, nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

// requestHash — sha256 от JSON запроса. Метод в хеш не входит: он хранится в записи отдельно.
func requestHash(req any) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
