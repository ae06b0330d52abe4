package api

import (
	"encoding/json"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"marketdata/internal/events"
)

const (
	wsBuffer     = 256
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Frame is one message pushed to a UI client.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Push upgrades the request and forwards the three event kinds until the
// client goes away. The first frame is the current snapshot.
func (h *Handler) Push(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		hub := h.svc.Hub()
		prices, stopPrices := hub.Prices.Subscribe(wsBuffer)
		conns, stopConns := hub.Connection.Subscribe(8)
		subs, stopSubs := hub.Subscriptions.Subscribe(8)
		stop := func() {
			stopPrices()
			stopConns()
			stopSubs()
		}

		conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
		if err != nil {
			stop()
			log.Debug("websocket upgrade failed", zap.Error(err))
			return
		}

		p := &pusher{conn: conn, log: log, done: make(chan struct{})}
		go p.readPump()
		p.writePump(Frame{Type: "snapshot", Data: h.svc.Snapshot()}, prices, conns, subs)
		stop()
	}
}

type pusher struct {
	conn net.Conn
	log  *zap.Logger
	done chan struct{}
}

// readPump discards client frames and signals when the client disconnects.
func (p *pusher) readPump() {
	defer close(p.done)
	for {
		if _, _, err := wsutil.ReadClientData(p.conn); err != nil {
			return
		}
	}
}

func (p *pusher) write(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wsutil.WriteServerText(p.conn, b)
}

func (p *pusher) writePump(first Frame, prices <-chan events.PriceUpdate, conns <-chan events.ConnectionStatus, subs <-chan events.SubscriptionStatus) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	if err := p.write(first); err != nil {
		return
	}
	for {
		var f Frame
		select {
		case <-p.done:
			return
		case u, ok := <-prices:
			if !ok {
				return
			}
			f = Frame{Type: "price", Data: u}
		case s, ok := <-conns:
			if !ok {
				return
			}
			f = Frame{Type: "connection", Data: s}
		case s, ok := <-subs:
			if !ok {
				return
			}
			f = Frame{Type: "subscription", Data: s}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := wsutil.WriteServerMessage(p.conn, ws.OpPing, nil); err != nil {
				return
			}
			continue
		}
		if err := p.write(f); err != nil {
			p.log.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}
