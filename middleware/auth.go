package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "user_id"

// DevUserHeader carries the caller's user id when no JWT secret is configured
const DevUserHeader = "X-User-ID"

func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// ValidateToken verifies an HS256 access token and returns its user id
func ValidateToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	if tokenType, _ := claims["type"].(string); tokenType == "refresh" {
		return "", errors.New("cannot use refresh token for authentication")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", errors.New("invalid user id in token")
	}
	return userID, nil
}

// AuthMiddleware authenticates requests with a bearer JWT and stores the user
// id under UserIDKey. With an empty secret the X-User-ID header is trusted
// instead, which is only meant for local development.
func AuthMiddleware(secret string) gin.HandlerFunc {
	if secret == "" {
		log.Warn("JWT_SECRET is not set, trusting the X-User-ID header")
		return func(c *gin.Context) {
			userID := strings.TrimSpace(c.GetHeader(DevUserHeader))
			if userID == "" {
				abortUnauthorized(c, "missing "+DevUserHeader+" header")
				return
			}
			c.Set(UserIDKey, userID)
			c.Next()
		}
	}

	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		tokenString := extractToken(authHeader)
		if tokenString == "" {
			abortUnauthorized(c, "invalid authorization format")
			return
		}
		userID, err := ValidateToken(tokenString, key)
		if err != nil {
			log.Warnf("Rejected token from %s: %v", c.ClientIP(), err)
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
}

// GetUserID returns the authenticated user id set by AuthMiddleware
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
