package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey string

const operatorIDKey ctxKey = "operator_id"

// TokenValidator — интерфейс проверки токенов операторского API
type TokenValidator interface {
	VerifyToken(tokenStr string) (*OperatorClaims, error)
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем оператора в контекст
			ctx := context.WithValue(r.Context(), operatorIDKey, claims.OperatorID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext достает ID оператора, положенный middleware.
func OperatorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operatorIDKey).(string); ok {
		return id
	}
	return ""
}
