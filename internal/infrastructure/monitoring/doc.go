/*
Package monitoring collects Prometheus metrics for the orchestrator:
HTTP requests, task pipelines per kind, provisioning work, app gauges,
and WebSocket traffic, plus a JSON snapshot mirror for the health
payload.

NewMetrics registers every collector on the default registry, so it must
run once per process.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTaskTimer(metrics, "install")
	// ... run pipeline ...
	timer.Stop(false)

The collectors are served by the standard Prometheus handler:

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
