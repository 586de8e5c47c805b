package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"pillpal/pkg/auth"
)

// DeviceAuthMiddleware verifies device tokens when a secret is configured.
// Supports both Authorization header and query parameter (for WebSocket connections).
// A nil jwtAuth leaves the API open, which suits a single-household install
// on a private network.
func DeviceAuthMiddleware(jwtAuth *auth.LocalJWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtAuth == nil {
			c.Locals("device_id", "local")
			c.Locals("device_role", "patient")
			return c.Next()
		}

		var token string

		// 1. Try Authorization header first
		if authHeader := c.Get("Authorization"); authHeader != "" {
			if extracted, err := auth.ExtractToken(authHeader); err == nil {
				token = extracted
			}
		}

		// 2. Try query parameter (browsers cannot set headers on WebSocket upgrades)
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		device, err := jwtAuth.VerifyToken(token)
		if err != nil {
			log.Printf("❌ [AUTH] Token rejected from %s: %v", c.IP(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("device_id", device.ID)
		c.Locals("device_role", device.Role)
		return c.Next()
	}
}

// RequireRole rejects devices whose token carries a different role
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if got, _ := c.Locals("device_role").(string); got != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "This device is not allowed to perform this action",
			})
		}
		return c.Next()
	}
}
