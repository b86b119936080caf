package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorClaims are the claims required on admin tokens. Operator tooling
// mints these out of band; the engine only validates.
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// RequireOperator guards the operator admin surface (blocklists, name rules,
// scorer parameters) with an HMAC-signed bearer token.
func RequireOperator(signingKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			claims := &OperatorClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(signingKey), nil
			})
			if err != nil || !token.Valid || claims.Operator == "" {
				logger.WarnContext(r.Context(), "rejected admin request",
					"path", r.URL.Path,
					"error", errString(err),
				)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func errString(err error) string {
	if err == nil {
		return "invalid token"
	}
	return err.Error()
}
