package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/keydrop/internal/core/domain"
)

var kindStatus = map[domain.Kind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindStockUnavailable:  http.StatusConflict,
	domain.KindPaymentRejected:   http.StatusPaymentRequired,
	domain.KindPaymentMismatch:   http.StatusUnprocessableEntity,
	domain.KindDuplicatePayment:  http.StatusConflict,
	domain.KindTransientConflict: http.StatusServiceUnavailable,
	domain.KindCorruptPayload:    http.StatusInternalServerError,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindForbidden:         http.StatusForbidden,
	domain.KindFatal:             http.StatusInternalServerError,
}

var kindCode = map[domain.Kind]codes.Code{
	domain.KindValidation:        codes.InvalidArgument,
	domain.KindStockUnavailable:  codes.ResourceExhausted,
	domain.KindPaymentRejected:   codes.FailedPrecondition,
	domain.KindPaymentMismatch:   codes.FailedPrecondition,
	domain.KindDuplicatePayment:  codes.AlreadyExists,
	domain.KindTransientConflict: codes.Aborted,
	domain.KindCorruptPayload:    codes.DataLoss,
	domain.KindNotFound:          codes.NotFound,
	domain.KindForbidden:         codes.PermissionDenied,
	domain.KindFatal:             codes.Internal,
}

func mapErrorToStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if s, ok := kindStatus[domain.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func mapErrorToCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	if c, ok := kindCode[domain.KindOf(err)]; ok {
		return c
	}
	return codes.Internal
}

// publicMessage is what a caller may see. Errors outside the domain taxonomy
// carry driver or network detail and are replaced with the generic message.
func publicMessage(err error) string {
	var de *domain.Error
	if !errors.As(err, &de) {
		return domain.ErrFatal.Message
	}
	if de.Kind == domain.KindFatal {
		return domain.ErrFatal.Message
	}
	if de.Message == "" {
		return string(de.Kind)
	}
	return de.Message
}

func grpcError(err error) error {
	return status.Error(mapErrorToCode(err), publicMessage(err))
}
