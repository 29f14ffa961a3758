package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type claimsKeyType struct{}

var claimsKey claimsKeyType

// RoleAdmin may read wallet balances and change backend settings.
const RoleAdmin = "admin"

// Claims is the JWT payload expected on protected routes.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token carries role.
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

const clockSkew = 30 * time.Second

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization scheme")
)

// RequireAuth validates an HS256 bearer token that carries an expiry. With
// no secret configured every request is rejected.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	key := func(*jwt.Token) (any, error) { return []byte(jwtSecret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if jwtSecret == "" {
				writeProblem(w, http.StatusUnauthorized, "auth_unconfigured", "authentication not configured")
				return
			}

			raw, err := bearerToken(r)
			switch {
			case errors.Is(err, errNoCredentials):
				writeProblem(w, http.StatusUnauthorized, "auth_required", err.Error())
				return
			case err != nil:
				writeProblem(w, http.StatusUnauthorized, "auth_invalid_scheme", err.Error())
				return
			}

			claims := &Claims{}
			if _, err := parser.ParseWithClaims(raw, claims, key); err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected bearer token")
				writeProblem(w, http.StatusUnauthorized, "auth_invalid", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// RequireRole rejects authenticated callers that lack role. It must run after RequireAuth.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "auth_required", "missing credentials")
				return
			}
			if !claims.HasRole(role) {
				writeProblem(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims returns the validated token claims.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// GetSubject returns the token subject, used as the actor in logs.
func GetSubject(ctx context.Context) (string, bool) {
	claims, ok := GetClaims(ctx)
	if !ok || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}
