package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/billing-webhooks/pkg/security"
)

const HeaderAPIKey = "X-API-Key"

// OperatorAuth guards the operator endpoints. Two credentials are accepted:
// a bearer JWT issued by the internal admin service, or a static API key
// checked against its bcrypt hash for tooling and scripts.
type OperatorAuth struct {
	jwtSecret  []byte
	apiKeyHash string
	hasher     security.APIKeyHasher
}

func NewOperatorAuth(jwtSecret, apiKeyHash string, hasher security.APIKeyHasher) *OperatorAuth {
	return &OperatorAuth{
		jwtSecret:  []byte(jwtSecret),
		apiKeyHash: apiKeyHash,
		hasher:     hasher,
	}
}

func (m *OperatorAuth) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(HeaderAPIKey); key != "" {
			if m.apiKeyHash == "" || m.hasher.Compare(m.apiKeyHash, key) != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
				return
			}
			c.Set("operator", "api-key")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		subject, err := m.validateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator", subject)
		c.Next()
	}
}

func (m *OperatorAuth) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	subject, _ := claims.GetSubject()
	if subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}
