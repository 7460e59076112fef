// Package server provides the operations HTTP server of a governor
// process.
//
// Routes:
//
//	GET    /metrics                          Prometheus exposition
//	GET    /health/live                      liveness probe
//	GET    /health/ready                     readiness (store ping and failover mode)
//	GET    /version                          build information
//	GET    /admin/sources                    configured and disabled sources
//	GET    /admin/sources/{source}           bucket and breaker state of one source
//	DELETE /admin/sources/{source}/breaker   administrative breaker reset
//	GET    /admin/failover                   failover mode and counters
//
// Admin routes are only registered when Config.Admin is set. The server
// binds to loopback by default; it has no authentication of its own.
//
// Basic usage:
//
//	srv := server.New(server.Config{
//	    ListenAddress: "127.0.0.1:9090",
//	    MetricsPath:   "/metrics",
//	    Gatherer:      registry,
//	    Health:        checker,
//	    Admin:         manager,
//	    Logger:        logger,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
package server
