package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth returns a middleware enforcing `Authorization: Bearer
// <token>` on every route in its group. The token is resolved once, at
// router construction, so rotating it means restarting rather than racing
// env reads against in-flight requests. An empty token disables the check
// (dev mode); in GIN_MODE=release that leaves the scan endpoints, which
// accept master keys in request bodies, open to anyone who can reach the
// port, so a loud warning is logged.
//
// Public endpoints (health, WebSocket stream) sit outside the group this
// guards; scan creation is always inside it.
func BearerAuth(token string) gin.HandlerFunc {
	if token == "" && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] API_AUTH_TOKEN is not set in release mode. " +
			"Anyone who can reach this port can submit master keys for scanning. " +
			"Set API_AUTH_TOKEN in your environment to enforce authentication.")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing or malformed Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			c.Abort()
			return
		}

		// Constant-time comparison to prevent timing-based token enumeration.
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// bearerToken extracts the credential from a `Bearer <token>` header.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
