package http

import (
	"github.com/gin-gonic/gin"

	"achievement_engine/platform/config"
)

// Module is a bounded context that mounts its own routes. The router only
// knows this interface, never individual endpoints.
type Module interface {
	// Name identifies the module in startup logs.
	Name() string
	// RegisterRoutes mounts the module's handlers on the shared groups.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups built by the router.
type RouterContext struct {
	// Engine is the root gin engine.
	Engine *gin.Engine
	// V1 is /api/v1 without authentication.
	V1 *gin.RouterGroup
	// Protected is /api/v1 behind AuthRequired.
	Protected *gin.RouterGroup
	// Admin is /api/v1/admin behind AuthRequired and the admin role.
	Admin *gin.RouterGroup
	// Config exposes the JWT secret to modules that authenticate differently.
	Config config.JWTConfig
	// AuthMiddleware is the middleware already applied to Protected.
	AuthMiddleware gin.HandlerFunc
}
