package relay

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RouterOptions configures the relay's HTTP surface.
type RouterOptions struct {
	// AllowedOrigins lists accepted Origin hosts for websocket upgrades.
	// Empty or containing "*" accepts any origin.
	AllowedOrigins []string

	// SendBuffer is the per-session outbound queue length.
	SendBuffer int

	Metrics *Metrics
	Logger  *zap.Logger
}

// NewRouter mounts /health, /ws and /metrics.
func NewRouter(hub *Hub, opts RouterOptions) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})
	r.GET("/ws", ServeWs(hub, opts))
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	return r
}

// ServeWs upgrades the request and attaches the connection to the hub.
func ServeWs(hub *Hub, opts RouterOptions) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	logger := opts.Logger.Named("ws")

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
			return
		}

		client := newClient(hub, conn, opts.SendBuffer)
		id, ok := hub.Register(client)
		if !ok {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
			conn.Close()
			return
		}
		logger.Debug("session attached", zap.String("session", id), zap.String("remote", c.ClientIP()))

		go client.writePump()
		go client.readPump()
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	hosts := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			hosts[strings.ToLower(o)] = true
		}
	}
	if len(hosts) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients do not send an Origin.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)] || hosts[strings.ToLower(origin)]
	}
}
