// Package http holds the pieces shared by the router and the modules it mounts.
package http

import (
	"context"

	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

// RouterConfig is the configuration slice the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs the readiness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is filled in by the composition root and handed to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health may be nil, in which case /api/ready always reports ok.
	Health  HealthChecker
	Modules []Module
}
