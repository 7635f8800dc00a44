package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
)

// Claims is the JWTClaims entity of: subject, roles, and the
// registered claims HS256 tokens must carry.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTConfig configures the JWT auth stage.
type JWTConfig struct {
	Secret      string
	Issuer      string
	Audience    string
	ClockSkew   time.Duration
	PublicPaths map[string]bool
}

// JWTAuth performs Bearer-token extraction, HS256 verification,
// exp/nbf/iss/aud validation, and user/claims context population.
// Public paths skip the stage entirely.
func JWTAuth(cfg JWTConfig) func(http.Handler) http.Handler {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 60 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.PublicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if header == "" || !ok || tokenString == "" {
				WriteError(w, r, apperrors.CodeAuthMissing, "missing bearer token", nil)
				return
			}

			claims := &Claims{}
			parser := jwt.NewParser(
				jwt.WithValidMethods([]string{"HS256"}),
				jwt.WithLeeway(skew),
			)
			if cfg.Issuer != "" {
				parser = jwt.NewParser(
					jwt.WithValidMethods([]string{"HS256"}),
					jwt.WithLeeway(skew),
					jwt.WithIssuer(cfg.Issuer),
				)
			}

			token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				if typ, ok := t.Header["typ"].(string); ok && !strings.EqualFold(typ, "JWT") {
					return nil, jwt.ErrTokenMalformed
				}
				return []byte(cfg.Secret), nil
			})

			if err != nil || !token.Valid {
				if err != nil && strings.Contains(err.Error(), "expired") {
					WriteError(w, r, apperrors.CodeAuthExpired, "token expired", nil)
					return
				}
				WriteError(w, r, apperrors.CodeAuthInvalid, authInvalidMessage(err), nil)
				return
			}

			if cfg.Audience != "" {
				aud, _ := claims.GetAudience()
				if !audienceContains(aud, cfg.Audience) {
					WriteError(w, r, apperrors.CodeAuthInvalid, "invalid audience", nil)
					return
				}
			}

			roles := claims.Roles
			if len(roles) == 0 {
				roles = []string{"viewer"}
			}

			ctx := WithClaims(r.Context(), claims)
			ctx = WithUser(ctx, User{ID: claims.Subject, Roles: roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authInvalidMessage(err error) string {
	if err == nil {
		return "invalid token"
	}
	if strings.Contains(err.Error(), "none") {
		return "invalid token: alg none is not permitted"
	}
	return "invalid token: " + err.Error()
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
