package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/contractsign/config"
	"github.com/AnTengye/contractsign/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionHeader carries the page session token as an alternative to
// "Authorization: Bearer <token>".
const SessionHeader = "X-Session-Token"

var errKindMismatch = errors.New("session token issued for another page")

// SessionClaims binds a browser page to its server-side controller. It
// carries no identity: whoever holds a signing link may sign.
type SessionClaims struct {
	SessionID string `json:"sid"`
	Kind      string `json:"kind"`
	jwt.RegisteredClaims
}

// GenerateSessionToken issues a token for the page session id of the given
// kind (signing, verification).
func GenerateSessionToken(sessionID, kind string, cfg *config.SessionConfig) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(time.Duration(cfg.ExpireHours) * time.Hour)

	claims := SessionClaims{
		SessionID: sessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ParseSessionToken validates tokenString and checks it was issued for kind
func ParseSessionToken(tokenString, kind string, cfg *config.SessionConfig) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Kind != kind {
		return nil, errKindMismatch
	}
	return claims, nil
}

func sessionToken(c *gin.Context) (string, bool) {
	if t := c.GetHeader(SessionHeader); t != "" {
		return t, true
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// SessionAuth requires a valid page session token of the given kind and
// tags the request context with the session for logging.
func SessionAuth(cfg *config.SessionConfig, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := sessionToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session token required"})
			return
		}

		claims, err := ParseSessionToken(tokenString, kind, cfg)
		if err != nil {
			logger.Warn(c.Request.Context(), "session token rejected", "kind", kind, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		c.Set("session_id", claims.SessionID)
		c.Request = c.Request.WithContext(logger.WithSession(c.Request.Context(), claims.SessionID, kind))

		c.Next()
	}
}

// GetSessionID gets the page session id from context
func GetSessionID(c *gin.Context) string {
	if id, exists := c.Get("session_id"); exists {
		return id.(string)
	}
	return ""
}
