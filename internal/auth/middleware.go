// Package auth verifies the bearer token issued at login and puts the
// caller's session identity on the request context.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"github.com/zidewell/zidwell-team-sub000/pkg/utils"
)

func JWTMiddleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Authorization required", nil)
				return
			}

			tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(cfg.JWTSecret), nil
			}, jwt.WithExpirationRequired())

			if err != nil || !token.Valid {
				logger.Debug("Rejected bearer token", logger.Fields{"path": r.URL.Path, logger.ErrorKey: fmt.Sprint(err)})
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid token claims", nil)
				return
			}

			userID, ok := claims[utils.UserIDKey].(string)
			if !ok || userID == "" {
				utils.BuildErrorResponse(w, http.StatusUnauthorized, "Invalid user ID in token", nil)
				return
			}
			email, _ := claims[utils.EmailKey].(string)

			ctx := WithIdentity(r.Context(), wallet.SessionIdentity{UserID: userID, Email: email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithIdentity(ctx context.Context, id wallet.SessionIdentity) context.Context {
	return context.WithValue(ctx, utils.IdentityKey, id)
}

// IdentityFrom returns the identity JWTMiddleware stored on ctx.
func IdentityFrom(ctx context.Context) (wallet.SessionIdentity, bool) {
	id, ok := ctx.Value(utils.IdentityKey).(wallet.SessionIdentity)
	return id, ok && !id.IsZero()
}
