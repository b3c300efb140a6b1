// Package httpapi implements the HTTP surface: health checks, ICE
// server list vending, and the signalling WebSocket upgrade endpoint.
// Grounded on the teacher's gin.Engine route-group conventions
// (router/assistant.go, router/healthcheck.go) — gin-contrib/cors is
// wired in here even though the teacher's copied router files don't
// reach for it, since a browser-facing signalling endpoint needs CORS
// the teacher's gRPC-fronted APIs never did.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/config"
	"github.com/baro-gochi/counselor-assist-core/internal/llm"
	"github.com/baro-gochi/counselor-assist-core/internal/persistence"
	"github.com/baro-gochi/counselor-assist-core/internal/room"
)

// Deps bundles every collaborator the router's handlers need.
type Deps struct {
	Cfg         *config.Config
	Logger      commons.Logger
	Manager     *room.Manager
	Persistence persistence.Gateway
	LLM         llm.Client
}

// NewRouter builds the gin.Engine exposing /healthz, /readyz,
// /v1/ice-servers, and the /v1/rooms/:room/ws signalling upgrade.
func NewRouter(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsCfg))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		if deps.LLM == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready", "llm_available": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "llm_available": true})
	})

	v1 := engine.Group("/v1")
	v1.GET("/ice-servers", iceServersHandler(deps.Cfg))
	v1.GET("/rooms/:room/ws", wsHandler(deps))

	return engine
}

// iceServersHandler vends the configured ICE server URLs for the
// browser's RTCPeerConnection config, with an expiry derived from
// turn_credentials_ttl_seconds. It mints no TURN username or credential.
func iceServersHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		expiresAt := time.Now().Add(cfg.TURNCredentialsTTL()).Unix()
		servers := make([]gin.H, 0, len(cfg.ICEServerURLs))
		for _, url := range cfg.ICEServerURLs {
			servers = append(servers, gin.H{"urls": url})
		}
		c.JSON(http.StatusOK, gin.H{
			"ice_servers": servers,
			"expires_at":  expiresAt,
		})
	}
}
