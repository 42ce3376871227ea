package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/allocation/internal/core/domain"
	"github.com/rl1809/allocation/internal/core/service"
)

const etaLayout = "2006-01-02"

// httpError maps a bus error to a status code and a client message.
func httpError(err error) (int, string) {
	switch {
	case domain.IsOutOfStockError(err):
		return http.StatusConflict, "out of stock"
	case domain.IsConcurrencyConflictError(err):
		return http.StatusServiceUnavailable, "concurrent update, retry the request"
	case domain.IsInvalidSkuError(err):
		return http.StatusBadRequest, err.Error()
	case domain.IsBatchNotFoundError(err):
		return http.StatusNotFound, err.Error()
	case domain.IsInvalidCommandError(err):
		return http.StatusBadRequest, err.Error()
	case domain.IsDuplicateBatchError(err):
		return http.StatusConflict, err.Error()
	case service.IsHandlerNotFoundError(err):
		return http.StatusNotImplemented, "not implemented"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// grpcError maps a bus error to a gRPC status.
func grpcError(err error) error {
	var code codes.Code
	switch {
	case domain.IsOutOfStockError(err):
		code = codes.FailedPrecondition
	case domain.IsConcurrencyConflictError(err):
		code = codes.Aborted
	case domain.IsInvalidSkuError(err), domain.IsBatchNotFoundError(err):
		code = codes.NotFound
	case domain.IsInvalidCommandError(err):
		code = codes.InvalidArgument
	case domain.IsDuplicateBatchError(err):
		code = codes.AlreadyExists
	case service.IsHandlerNotFoundError(err):
		code = codes.Unimplemented
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// parseETA accepts a date or an RFC 3339 timestamp. Empty means no ETA.
func parseETA(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(etaLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return nil, domain.NewInvalidCommandError("eta", fmt.Sprintf("expected %s", etaLayout), s)
	}
	return &t, nil
}

func batchRefOrNew(ref string) string {
	if ref != "" {
		return ref
	}
	return "batch-" + uuid.NewString()
}
