package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "bioattend/pkg/domain"
	"bioattend/pkg/requestcontext"
)

// Claims are the JWT claims issued by the identity collaborator. The core
// consumes a resolved identity: a user account, a role, and — for students —
// the student identity attendance is recorded against.
type Claims struct {
	Role      string `json:"role"`
	StudentID string `json:"student_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates bearer tokens and extracts claims.
type JWTValidator struct {
	signingKey []byte
}

// NewJWTValidator creates a validator for HS256-signed tokens.
func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token string.
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token and injects the
// resolved identity into the request context. The token is read from the
// Authorization header, falling back to a "token" query parameter for
// WebSocket and SSE clients that cannot set headers.
func RequireAuth(validator *JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ""
			if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				tokenString = after
			} else {
				tokenString = r.URL.Query().Get("token")
			}
			if tokenString == "" {
				unauthorized(w)
				return
			}

			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized: invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				unauthorized(w)
				return
			}

			ctx := r.Context()
			if uid, err := id.ParseUserID(claims.Subject); err == nil {
				ctx = requestcontext.WithUserID(ctx, uid)
			}
			ctx = requestcontext.WithRole(ctx, requestcontext.Role(claims.Role))
			if claims.StudentID != "" {
				if sid, err := id.ParseStudentID(claims.StudentID); err == nil {
					ctx = requestcontext.WithStudentID(ctx, sid)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized","message":"Invalid or expired token"}`))
}
