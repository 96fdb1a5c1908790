package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-session/internal/auth"
	"chat-session/internal/models"
)

const (
	UserIDKey = "userID"
	ClaimsKey = "claims"
)

// TokenVerifier is satisfied by auth.Verifier.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// ProfileProvisioner creates the profile row for a user seen for the first
// time.
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, profile models.Profile) error
}

// AuthMiddleware validates the bearer token and stores the user id and claims
// on the context. Websocket clients that cannot set headers may pass the
// token as the token query parameter.
func AuthMiddleware(verifier TokenVerifier, provisioner ProfileProvisioner, log zerolog.Logger) gin.HandlerFunc {
	var provisioned sync.Map
	log = log.With().Str("component", "auth").Logger()

	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID := claims.UserID()
		if provisioner != nil {
			if _, seen := provisioned.Load(userID); !seen {
				profile := models.Profile{ID: userID, Name: claims.Name, Email: claims.Email}
				if err := provisioner.EnsureProfile(c.Request.Context(), profile); err != nil {
					log.Warn().Err(err).Str("user_id", userID).Msg("profile provisioning failed")
				} else {
					provisioned.Store(userID, struct{}{})
				}
			}
		}

		c.Set(UserIDKey, userID)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := strings.TrimSpace(c.Query("token"))
		return token, token != ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
