package auth

import (
	"strings"

	"collaborative-table-editor/internal/errors"

	"github.com/gin-gonic/gin"
)

const ContextKey = "auth"

// Middleware resolves the caller's token (Authorization header or token
// query parameter, for websocket clients) into an Authentication and stores
// it on the request context.
func Middleware(authenticator *Authenticator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		resolved, err := authenticator.Resolve(ctx.Request.Context(), token)
		if err != nil {
			ctx.Error(err)
			ctx.Abort()
			return
		}

		ctx.Set(ContextKey, resolved)
		ctx.Next()
	}
}

// FromGin returns the Authentication the middleware attached to the request.
func FromGin(c *gin.Context) Authentication {
	v, _ := c.Get(ContextKey)
	a, _ := v.(Authentication)
	return a
}
