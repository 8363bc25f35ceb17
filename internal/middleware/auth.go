package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/imageforge/api/pkg/response"
)

type AuthMiddleware struct {
	jwtSecret string
}

type UserClaims struct {
	UserID string `json:"userId"`
	Plan   string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate validates the JWT bearer token from the Authorization header.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		token, err := jwt.ParseWithClaims(parts[1], &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})

		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*UserClaims)
		if !ok || !token.Valid {
			return response.Unauthorized(c, "Invalid token claims")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("plan", claims.Plan)

		return c.Next()
	}
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserPlan extracts the subscription plan from context.
func GetUserPlan(c *fiber.Ctx) string {
	if plan, ok := c.Locals("plan").(string); ok {
		return plan
	}
	return ""
}

// GenerateToken creates a signed token (useful for testing).
func (m *AuthMiddleware) GenerateToken(userID, plan string) (string, error) {
	claims := UserClaims{
		UserID: userID,
		Plan:   plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "imageforge-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}
