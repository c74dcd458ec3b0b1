// Package apierror maps core errors to HTTP response envelopes.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/numera-ai/voicecore/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// FromError converts any error into the canonical wire error plus an HTTP
// status. Unknown errors become opaque internal errors so callers never see
// vendor details.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Code:      core.ErrInternal,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Code:      core.ErrInternal,
			Message:   "request cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFromCode(coreErr.Code)
	}

	return &core.Error{
		Code:      core.ErrInternal,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromCode(code core.ErrorCode) int {
	switch code {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrPermissionDenied:
		return http.StatusForbidden
	case core.ErrSessionNotFound:
		return http.StatusNotFound
	case core.ErrInvalidStateTransition:
		return http.StatusConflict
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrRoomCreationFailed, core.ErrPipelineStageFatal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
