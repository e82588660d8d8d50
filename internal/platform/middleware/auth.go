package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "trustnet/pkg/domain-errors"
	"trustnet/pkg/platform/httputil"
	"trustnet/pkg/requestcontext"
)

// CallerValidator turns a bearer token into the authenticated caller.
type CallerValidator interface {
	ValidateCaller(tokenString string) (requestcontext.Caller, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the caller
// in the request context.
func RequireAuth(validator CallerValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}
			caller, err := validator.ValidateCaller(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithCaller(ctx, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
