// Package mw holds the gateway's HTTP middleware chain.
package mw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/numera-ai/voicecore/pkg/core"
	"github.com/numera-ai/voicecore/pkg/gateway/apierror"
)

type ctxKeyRequestID struct{}
type ctxKeyUserRef struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

// UserRefFrom returns the authenticated user reference for the request.
func UserRefFrom(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(ctxKeyUserRef{}).(string)
	return ref, ok && ref != ""
}

func WithUserRef(ctx context.Context, userRef string) context.Context {
	return context.WithValue(ctx, ctxKeyUserRef{}, userRef)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// UserRef extracts the caller identity from the X-User-Ref header. The
// header is set by a trusted authenticating edge; requests without it are
// rejected, and when trustHeader is false the header is refused outright
// rather than believed. Health and metrics endpoints are mounted outside
// this middleware.
func UserRef(trustHeader bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())
		if !trustHeader {
			writeJSONError(w, http.StatusUnauthorized, &core.Error{
				Code:      core.ErrPermissionDenied,
				Message:   "header-derived identity is disabled on this deployment",
				RequestID: reqID,
			})
			return
		}
		ref := strings.TrimSpace(r.Header.Get("X-User-Ref"))
		if ref == "" {
			writeJSONError(w, http.StatusUnauthorized, &core.Error{
				Code:      core.ErrPermissionDenied,
				Message:   "missing user reference",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserRef(r.Context(), ref)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logger != nil {
					logger.Error("panic", "panic", v)
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: err})
}
