package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Interval between keepalive pings so idle dashboards stay connected
// through proxies.
const wsPingInterval = 30 * time.Second

// EventStream upgrades the connection and forwards bus events as JSON
// frames until the client goes away. Events the client is too slow to
// take are dropped by the bus, never buffered here.
func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard may be served from a different origin in dev.
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := h.Bus.Subscribe()
	defer h.Bus.Unsubscribe(sub)
	log.Info().Int("subscribers", h.Bus.Subscribers()).Msg("Event stream connected")

	ctx := r.Context()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				log.Debug().Err(err).Msg("Event stream write failed, closing")
				return
			}
		}
	}
}
