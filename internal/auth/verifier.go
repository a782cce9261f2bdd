// Package auth verifies session tokens issued by the web tier and resolves
// them to actors with platform roles. Token issuance is out of scope here;
// this service only checks signatures and extracts claims.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"farmsight/internal/types"
)

// sessionClaims is the claim set carried by platform session tokens.
type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed session tokens.
type Verifier struct {
	secret     []byte
	cookieName string
}

// NewVerifier creates a Verifier for tokens signed with the given shared
// secret. cookieName is the session cookie to read when no Authorization
// header is present.
func NewVerifier(secret types.SecretString, cookieName string) *Verifier {
	return &Verifier{
		secret:     []byte(secret.Unmask()),
		cookieName: cookieName,
	}
}

// VerifyToken checks the token signature and expiry and returns the actor it
// represents.
func (v *Verifier) VerifyToken(tokenStr string) (*types.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"session token is invalid or expired",
			err,
		)
	}

	role := types.Role(claims.Role)
	switch role {
	case types.RoleBuyer, types.RoleInvestor, types.RoleAdmin:
	default:
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"session token carries an unknown role",
			nil,
		)
	}

	return &types.Actor{
		Subject: claims.Subject,
		Role:    role,
	}, nil
}

// Middleware resolves the session token, when present, into an Actor on the
// request context. Requests without a token pass through anonymously; role
// enforcement is the concern of RequireRole on the routes that need it.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := v.extractToken(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := v.VerifyToken(tokenStr)
		if err != nil {
			// A present-but-invalid token is not silently anonymous.
			writeAuthError(w, err.(*types.AppError))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// extractToken reads the token from the Authorization header, falling back to
// the session cookie.
func (v *Verifier) extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	if v.cookieName != "" {
		if c, err := r.Cookie(v.cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}

// RequireRole guards a route subtree: the request must carry an authenticated
// actor holding one of the given roles.
func RequireRole(roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := types.GetActor(r.Context())
			if actor == nil {
				writeAuthError(w, types.NewAppError(
					types.ErrCodeAuthTokenMissing,
					"authentication required",
					nil,
				))
				return
			}

			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeAuthError(w, types.NewAppError(
				types.ErrCodePermissionRole,
				"insufficient role for this operation",
				nil,
			))
		})
	}
}

// writeAuthError emits the uniform error envelope without importing core,
// which would create an import cycle through the server's middleware chain.
func writeAuthError(w http.ResponseWriter, err *types.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Message)
}
