package gateway

import "github.com/labstack/echo/v4"

// Register mounts the Gateway's WebSocket acceptor onto g, per spec.md
// §6's "transport is implementation-defined (WebSocket is typical)".
func (g *Gateway) Register(group *echo.Group) {
	group.GET("/ws", g.HandleWebSocket)
}
