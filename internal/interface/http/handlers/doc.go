// Package handlers contains health checking and reusable middleware for the
// points API.
//
// # Health Checks
//
// The HealthChecker interface allows registering multiple named health checks
// that are executed in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("postgres", handlers.NewPingCheck(db))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//	if !status.Ready {
//	    // a required dependency is down
//	}
//
// A failing optional check marks the service unhealthy but keeps it ready.
//
// # Middleware
//
// Middleware is composed with Chain or ChainHandler; the first middleware
// listed is the outermost:
//
//	h := handlers.ChainHandler(mux,
//	    handlers.SecurityHeadersMiddleware,
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	    handlers.DeadlineMiddleware(10*time.Second),
//	)
//
// APIKeyAuth guards admin routes with a key taken from a header or a Bearer
// token.
package handlers
