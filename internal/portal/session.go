package portal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsContextKey = "session_claims"

// SessionClaims carries the authenticated customer identity extracted from the
// portal session cookie. Token issuance belongs to the external auth provider;
// this package only validates.
type SessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// ClientID returns the authenticated client identifier.
func (claims *SessionClaims) ClientID() string {
	return claims.Subject
}

type sessionValidator struct {
	signingKey []byte
	issuer     string
	cookieName string
}

func newSessionValidator(cfg Config) *sessionValidator {
	return &sessionValidator{
		signingKey: []byte(cfg.SessionSigningKey),
		issuer:     cfg.SessionIssuer,
		cookieName: cfg.SessionCookieName,
	}
}

// Middleware validates the session cookie (or bearer token) and stores the
// claims on the request context.
func (validator *sessionValidator) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := validator.extractToken(ctx)
		if token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
			return
		}
		claims, err := validator.parse(token)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func (validator *sessionValidator) extractToken(ctx *gin.Context) string {
	if cookie, err := ctx.Cookie(validator.cookieName); err == nil && cookie != "" {
		return cookie
	}
	authorization := ctx.GetHeader("Authorization")
	if strings.HasPrefix(authorization, "Bearer ") {
		return strings.TrimPrefix(authorization, "Bearer ")
	}
	return ""
}

func (validator *sessionValidator) parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return validator.signingKey, nil
	}, jwt.WithIssuer(validator.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("invalid session claims")
	}
	return claims, nil
}

func getClaims(ctx *gin.Context) *SessionClaims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*SessionClaims)
	return claims
}
