package handlers

import (
	"net/http"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/gateway/apierror"
	"github.com/numera-ai/voicecore/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeJSON(w, http.StatusNotFound, apierror.Envelope{Error: &core.Error{
		Code:      core.ErrInvalidRequest,
		Message:   "unknown endpoint",
		RequestID: reqID,
	}})
}
