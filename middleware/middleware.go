// Package middleware provides HTTP middleware for JWT auth, role
// enforcement, and per-request structured logging.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cotrans/gateway/auth"
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxUserRole
	ctxSessionID
	ctxRequestID
)

// RequireAuth validates the Bearer JWT and injects userID + role into context.
// Returns 401 on a missing, invalid or expired token.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			claims, err := auth.ParseAccessToken(secret, raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			userID, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token subject")
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			ctx = context.WithValue(ctx, ctxUserRole, claims.Role)
			ctx = context.WithValue(ctx, ctxSessionID, claims.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns 403 if the request context role is not "admin".
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ContextUserRole(r) != "admin" {
				writeError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLog assigns a request id and logs method/URI/status/duration with
// structured fields, so logs carry a request id, method, and URI for error
// correlation. The id is also injected into the request context so handlers
// can attach it to their own log lines (e.g. an internal error id).
func RequestLog(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			ctx := context.WithValue(r.Context(), ctxRequestID, reqID)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			log.WithFields(logrus.Fields{
				"request_id": reqID,
				"method":     r.Method,
				"uri":        r.URL.RequestURI(),
				"status":     sw.status,
				"duration":   time.Since(start).String(),
			}).Info("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ContextUserID extracts the userID injected by RequireAuth.
func ContextUserID(r *http.Request) int64 {
	v, _ := r.Context().Value(ctxUserID).(int64)
	return v
}

// ContextUserRole extracts the role injected by RequireAuth.
func ContextUserRole(r *http.Request) string {
	v, _ := r.Context().Value(ctxUserRole).(string)
	return v
}

// ContextSessionID extracts the session UUID injected by RequireAuth.
func ContextSessionID(r *http.Request) uuid.UUID {
	v, _ := r.Context().Value(ctxSessionID).(uuid.UUID)
	return v
}

// ContextRequestID extracts the id assigned by RequestLog.
func ContextRequestID(r *http.Request) string {
	v, _ := r.Context().Value(ctxRequestID).(string)
	return v
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
