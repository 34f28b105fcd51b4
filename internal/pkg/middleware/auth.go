package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/internal/pkg/database"
	"github.com/cloudhop/cloudhop/internal/pkg/env"
)

// Context local keys set by AuthRequired.
const (
	LocalUserID = "userID"
	LocalUser   = "user"
)

// JWTClaims represents API token claims
type JWTClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token for the user
func GenerateToken(user *models.User) (string, error) {
	expireHours := 72
	claims := JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "cloudhop",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

// AuthRequired protects API routes with a Bearer JWT. Browser-initiated
// flows like the OAuth connect redirect cannot set headers, so a token
// query parameter is accepted as fallback.
func AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawToken := ""
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return unauthorized(c, "Invalid authorization header format")
			}
			rawToken = parts[1]
		} else if queryToken := c.Query("token"); queryToken != "" {
			rawToken = queryToken
		}
		if rawToken == "" {
			return unauthorized(c, "Missing authorization header")
		}

		token, err := jwt.ParseWithClaims(rawToken, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			return jwtSecret(), nil
		})
		if err != nil || !token.Valid {
			return unauthorized(c, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			return unauthorized(c, "Invalid token claims")
		}

		// The user must still exist and be active
		var user models.User
		if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
			return unauthorized(c, "User not found")
		}
		if !user.IsActive() {
			return unauthorized(c, "User account is disabled")
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalUser, &user)

		return c.Next()
	}
}

// GetCurrentUserID returns the authenticated user id from context
func GetCurrentUserID(c *fiber.Ctx) uint {
	userID, ok := c.Locals(LocalUserID).(uint)
	if !ok {
		return 0
	}
	return userID
}

// GetCurrentUser returns the authenticated user from context
func GetCurrentUser(c *fiber.Ctx) *models.User {
	user, ok := c.Locals(LocalUser).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func jwtSecret() []byte {
	return []byte(env.GetEnv("JWT_SECRET", ""))
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}
