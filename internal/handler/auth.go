package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"moneygo/internal/errors"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims carries the actor identity. Subject holds the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type actorKey struct{}

func withActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Sign issues a token for userID. Tokens are minted by an external identity
// provider in production; Sign serves tooling and tests.
func (a *Authenticator) Sign(userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) Parse(tokenString string) (Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Actor{}, errors.ErrUnauthorized.WithDetails("invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Actor{}, errors.ErrUnauthorized.WithDetails("invalid token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Actor{}, errors.ErrUnauthorized.WithDetails("invalid subject")
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	if role != RoleUser && role != RoleAdmin {
		return Actor{}, errors.ErrUnauthorized.WithDetails("unknown role")
	}

	return Actor{UserID: userID, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (a *Authenticator) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenString == "" {
				writeError(w, errors.ErrUnauthorized)
				return
			}

			actor, err := a.Parse(tokenString)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := actorFrom(r.Context())
			if !ok {
				writeError(w, errors.ErrUnauthorized)
				return
			}
			if !actor.IsAdmin() {
				writeError(w, errors.ErrForbidden.WithDetails("admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// mustActor returns the actor stored by Middleware.
func mustActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		writeError(w, errors.ErrUnauthorized)
	}
	return actor, ok
}
