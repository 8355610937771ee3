package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RoleSystem marks trusted backend callers allowed to act on any account.
const RoleSystem = "system"

// Claims is the bearer token payload.
type Claims struct {
	Sub   string `json:"sub"`
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Caller is the authenticated principal of a request.
type Caller struct {
	ID    string
	Email string
	Role  string
}

// IsSystem reports whether the caller carries the system role.
func (c Caller) IsSystem() bool { return c.Role == RoleSystem }

// CanActFor reports whether the caller may act on accountID.
func (c Caller) CanActFor(accountID string) bool {
	return c.IsSystem() || (c.ID != "" && c.ID == accountID)
}

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller set by Authenticator.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.ID != ""
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator keyed by secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for sub, valid for ttl.
func (a *Authenticator) IssueToken(sub, role, email string, ttl time.Duration) (string, error) {
	claims := Claims{
		Sub:   sub,
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates tokenStr and returns its claims.
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || c.Sub == "" {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}

		claims, err := a.Parse(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid bearer token")
			return
		}

		ctx := WithCaller(r.Context(), Caller{ID: claims.Sub, Email: claims.Email, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeError writes the RPC error envelope.
func writeError(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"status": status, "message": message},
	})
}
