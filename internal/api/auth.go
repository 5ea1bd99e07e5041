package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coachloop/coachloop/internal/toolrun"
)

type ctxKey int

const callerKey ctxKey = iota

// jwtAuth validates HS256 bearer tokens and attaches the caller identity to
// the request context. The uid comes from the standard sub claim;
// entitlements from an optional string-array claim.
func (s *Server) jwtAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			s.writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			s.writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.config.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			s.writeError(w, http.StatusUnauthorized, "token missing sub claim")
			return
		}

		caller := toolrun.Caller{UserID: sub}
		if raw, ok := claims["entitlements"].([]any); ok {
			for _, e := range raw {
				if v, ok := e.(string); ok {
					caller.Entitlements = append(caller.Entitlements, v)
				}
			}
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom extracts the authenticated caller placed by jwtAuth.
func callerFrom(ctx context.Context) (toolrun.Caller, bool) {
	c, ok := ctx.Value(callerKey).(toolrun.Caller)
	return c, ok
}
