package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/txmon/internal/dashboard"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type metricsSummary struct {
	Totals    dashboard.Totals `json:"totals"`
	UpdatedAt string           `json:"updatedAt"`
}

// RegisterGateway adds GET /metrics (dashboard counts) and GET /ws (viewer feed).
func RegisterGateway(r gin.IRoutes, hub *dashboard.Hub, log *zap.Logger) {
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, metricsSummary{
			Totals:    hub.Totals(),
			UpdatedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	})
	r.GET("/ws", serveViewer(hub, log))
}

// serveViewer upgrades to a websocket and streams the hub feed: the snapshot
// first, then every delta. Viewers never send anything meaningful; reads only
// detect disconnects and answer pings.
func serveViewer(hub *dashboard.Hub, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		sub := hub.Subscribe()
		log.Debug("viewer connected", zap.String("remote", c.ClientIP()))

		go readLoop(conn, sub)
		writeLoop(conn, sub)
		log.Debug("viewer disconnected", zap.String("remote", c.ClientIP()))
	}
}

func readLoop(conn *websocket.Conn, sub *dashboard.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, sub *dashboard.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the hub or closed by the reader.
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				sub.Fail(err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sub.Fail(err)
				return
			}
		}
	}
}
