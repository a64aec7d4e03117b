package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey     contextKey = "user_id"
	TrustLevelKey contextKey = "trust_level"
	RoleKey       contextKey = "role"
)

// AuthMiddleware is the narrow interface to the authentication
// collaborator: it turns a bearer token into {userId, trustLevel} for the
// rest of the chain. Session management happens elsewhere.
type AuthMiddleware struct {
	jwtSecret string
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ok := m.contextFromToken(r)
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches identity when a valid token is present and lets
// anonymous requests through; the rate limiter then keys on IP alone.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, ok := m.contextFromToken(r); ok {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin gates the admin surface on the role claim.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRole(r.Context()) != "admin" {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) contextFromToken(r *http.Request) (context.Context, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, false
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, false
	}

	ctx := context.WithValue(r.Context(), UserIDKey, userID)
	if level, ok := claims["trust_level"].(float64); ok {
		ctx = context.WithValue(ctx, TrustLevelKey, int(level))
	}
	if role, ok := claims["role"].(string); ok {
		ctx = context.WithValue(ctx, RoleKey, role)
	}
	return ctx, true
}

func GetUserID(ctx context.Context) string {
	if val := ctx.Value(UserIDKey); val != nil {
		return val.(string)
	}
	return ""
}

func GetTrustLevel(ctx context.Context) int {
	if val := ctx.Value(TrustLevelKey); val != nil {
		return val.(int)
	}
	return 0
}

func GetRole(ctx context.Context) string {
	if val := ctx.Value(RoleKey); val != nil {
		return val.(string)
	}
	return ""
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIdx := strings.LastIndex(ip, ":"); colonIdx != -1 {
		ip = ip[:colonIdx]
	}
	return strings.Trim(ip, "[]")
}

// ClientIP exposes the extraction for handlers outside this package.
func ClientIP(r *http.Request) string {
	return getClientIP(r)
}
