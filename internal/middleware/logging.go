package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/auth"
	"github.com/zidewell/zidwell-team-sub000/pkg/id"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"github.com/zidewell/zidwell-team-sub000/pkg/utils"
)

const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware tags each request with an id, echoed in X-Request-ID,
// and logs the outcome once the handler returns.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = id.Generate()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), utils.RequestIDKey, requestID)

		// Handlers further down attach the identity to this holder so the
		// completion log can carry the user id.
		holder := &identityHolder{}
		ctx = context.WithValue(ctx, identityHolderKey{}, holder)

		next.ServeHTTP(rw, r.WithContext(ctx))

		fields := logger.Fields{
			logger.RequestIDKey: requestID,
			"method":            r.Method,
			"path":              r.URL.Path,
			"status":            rw.status,
			"duration":          time.Since(start).String(),
			"remote":            r.RemoteAddr,
		}
		if holder.userID != "" {
			fields[logger.UserIdKey] = holder.userID
		}

		if rw.status >= http.StatusInternalServerError {
			logger.Warn("Request completed", fields)
			return
		}
		logger.Info("Request completed", fields)
	})
}

type identityHolderKey struct{}

type identityHolder struct {
	userID string
}

// TagIdentity records the authenticated user on the surrounding request log.
// It must run after auth.JWTMiddleware.
func TagIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder, ok := r.Context().Value(identityHolderKey{}).(*identityHolder); ok {
			if identity, ok := auth.IdentityFrom(r.Context()); ok {
				holder.userID = identity.UserID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequestID returns the id LoggingMiddleware assigned, if any.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(utils.RequestIDKey).(string)
	return v
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
