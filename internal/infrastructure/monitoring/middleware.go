package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		// Process request
		c.Next()

		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())

		metrics.RecordHTTPRequest(method, path, status, duration)
	}
}

// TaskTimer measures one task from slot acquisition to its terminal event
type TaskTimer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// NewTaskTimer starts timing a task and counts it as started
func NewTaskTimer(metrics *Metrics, kind string) *TaskTimer {
	metrics.RecordTaskStart(kind)
	return &TaskTimer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
	}
}

// Stop records duration and the task verdict
func (t *TaskTimer) Stop(failed bool) {
	t.metrics.RecordTaskEnd(t.kind, time.Since(t.start), failed)
}
