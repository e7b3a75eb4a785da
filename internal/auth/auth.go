// Package auth resolves the caller identity from a signed bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Claims represents the authorization claims transmitted via a JWT.
// Subject carries the account id.
type Claims struct {
	jwt.StandardClaims
	Name string `json:"name"`
	Role string `json:"role"`
}

// Authenticator verifies HS256 tokens issued for this service
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator; an empty issuer accepts any issuer
func NewAuthenticator(secret, issuer string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// IssueToken signs a token for identity, used by tooling and tests
func (a *Authenticator) IssueToken(identity types.Identity) (string, error) {
	if !types.IsValidIdentifier(identity.AccountID) {
		return "", fmt.Errorf("%w: invalid account id", ErrInvalidClaims)
	}
	if !types.IsValidRole(identity.Role) {
		return "", fmt.Errorf("%w: invalid role", ErrInvalidClaims)
	}

	now := a.now()
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.issuer,
			Subject:   identity.AccountID,
			ExpiresAt: now.Add(a.ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
		Name: identity.DisplayName,
		Role: identity.Role,
	}

	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return ss, nil
}

// ParseToken verifies the signature and claims and returns the identity
func (a *Authenticator) ParseToken(raw string) (types.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return types.Identity{}, interfaces.ErrUnauthorized
	}

	// TECHNICAL DISCOVERY: jwt-go v3 skips the issuer check unless asked
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return types.Identity{}, interfaces.ErrUnauthorized
	}
	if !types.IsValidIdentifier(claims.Subject) || !types.IsValidRole(claims.Role) {
		return types.Identity{}, interfaces.ErrUnauthorized
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return types.Identity{
		AccountID:   claims.Subject,
		DisplayName: name,
		Role:        claims.Role,
	}, nil
}

// Authenticate resolves the identity from the Authorization header or the
// token query parameter; browsers cannot set headers on a WebSocket upgrade
func (a *Authenticator) Authenticate(r *http.Request) (types.Identity, error) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return types.Identity{}, interfaces.ErrUnauthorized
	}
	return a.ParseToken(raw)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity stores identity on ctx
func WithIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the identity placed by Middleware
func IdentityFromContext(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(types.Identity)
	return identity, ok
}

// Middleware rejects unauthenticated requests with 401 and stores the identity on the context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireTeacher rejects callers without the teacher role with 403
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !identity.IsTeacher() {
			writeError(w, http.StatusForbidden, "teacher role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}

var (
	ErrEmptySecret   = errors.New("auth secret cannot be empty")
	ErrInvalidClaims = errors.New("invalid token claims")
)
