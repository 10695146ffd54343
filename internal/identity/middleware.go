package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

const ctxActorClaims = "identity.actor_claims"

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// RequireActor returns a Gin middleware that enforces a valid Bearer actor
// token and stores its claims on the context.
func RequireActor(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxActorClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireActor.
func ClaimsFromCtx(c *gin.Context) *ActorClaims {
	v, _ := c.Get(ctxActorClaims)
	claims, _ := v.(*ActorClaims)
	return claims
}

// ActorFromCtx returns the authenticated transition context. ok is false when
// no verified token is present.
func ActorFromCtx(c *gin.Context) (fsm.Context, bool) {
	claims := ClaimsFromCtx(c)
	if claims == nil {
		return fsm.Context{}, false
	}
	return claims.Context(), true
}
