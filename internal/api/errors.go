package api

import (
	"errors"
	"net/http"

	"github.com/matheus3301/dmsync/internal/edit"
	"github.com/matheus3301/dmsync/internal/httpapi"
	"github.com/matheus3301/dmsync/internal/messaging"
	"github.com/matheus3301/dmsync/internal/rank"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// errInvalid marks request errors found by the API layer itself.
var errInvalid = errors.New("invalid request")

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	var se *httpapi.StatusError
	switch {
	case errors.Is(err, errInvalid),
		errors.Is(err, edit.ErrValidation),
		errors.Is(err, messaging.ErrNoConversation),
		errors.Is(err, rank.ErrUnknownPreference),
		errors.Is(err, rank.ErrInvalidPreference),
		errors.Is(err, rank.ErrUnknownFilter):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, edit.ErrMessageNotFound),
		errors.Is(err, edit.ErrVersionNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, edit.ErrNotEditable),
		errors.Is(err, edit.ErrConflict),
		errors.Is(err, messaging.ErrInactiveConversation):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case httpapi.IsStatus(err, http.StatusNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case httpapi.IsStatus(err, http.StatusUnauthorized):
		return grpcstatus.Error(codes.Unauthenticated, err.Error())
	case httpapi.IsStatus(err, http.StatusForbidden):
		return grpcstatus.Error(codes.PermissionDenied, err.Error())
	case httpapi.IsStatus(err, http.StatusTooManyRequests):
		return grpcstatus.Error(codes.ResourceExhausted, err.Error())
	case errors.As(err, &se):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}
