package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines the cross-origin policy for the local UI.
type CORSConfig struct {
	// ExtraOrigins are allowed verbatim, next to any loopback origin.
	// Useful for UIs served from a custom scheme such as app://.
	ExtraOrigins []string
	MaxAge       time.Duration
}

// DefaultCORSConfig allows loopback origins only. The API serves a UI on
// another local port, never a remote site.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		MaxAge: 12 * time.Hour,
	}
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	extra := make(map[string]struct{}, len(cfg.ExtraOrigins))
	for _, origin := range cfg.ExtraOrigins {
		extra[strings.ToLower(origin)] = struct{}{}
	}

	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if _, ok := extra[strings.ToLower(origin)]; ok {
				return true
			}
			return loopbackOrigin(origin)
		},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Accept",
			"Origin",
			"Cache-Control",
			"X-Requested-With",
			RequestIDHeader,
		},
		MaxAge: cfg.MaxAge,
	})
}

// loopbackOrigin reports whether origin points at this machine, whatever
// the port.
func loopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
