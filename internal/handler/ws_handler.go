package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/middleware"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/response"
	ws "github.com/stemsi/drivertest-bot/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// EventStream yields session lifecycle events until ctx ends.
type EventStream interface {
	Stream(ctx context.Context) (<-chan model.SessionEvent, error)
}

// MonitorHandler relays live session events to operator dashboards.
type MonitorHandler struct {
	events   EventStream
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(events EventStream, log zerolog.Logger, allowedOrigins []string) *MonitorHandler {
	return &MonitorHandler{
		events:   events,
		log:      log.With().Str("component", "monitor_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// MonitorStream godoc
// WS /ws/v1/admin/monitor?token=
// Streams every session event. Clients may send {"action":"ping"}.
func (h *MonitorHandler) MonitorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, err := h.events.Stream(ctx)
	if err != nil {
		requestLog(c, h.log).Error().Err(err).Msg("Failed to subscribe to session events")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUpstreamUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		requestLog(c, h.log).Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := requestLog(c, h.log).With().Str("operator", claims.Username).Logger()
	wsLog.Info().Msg("Operator attached to live monitor")

	// gorilla allows one concurrent writer, so the reader hands replies to
	// this loop instead of writing them itself.
	replies := make(chan any, 8)
	go h.readLoop(conn, replies, cancel, wsLog)

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Operator detached from live monitor")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteTyped(conn, ws.SessionMessage{Event: ws.EventSession, Session: ev}); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		case reply := <-replies:
			if err := ws.WriteTyped(conn, reply); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return
			}
		}
	}
}

func (h *MonitorHandler) readLoop(conn *websocket.Conn, replies chan<- any, cancel context.CancelFunc, log zerolog.Logger) {
	defer cancel()
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		var reply any
		switch msg.Action {
		case ws.ActionPing:
			reply = ws.PongResponse{Event: ws.EventPong}
		default:
			reply = ws.ErrorResponse{Event: ws.EventError, Error: "unknown action: " + string(msg.Action)}
		}
		select {
		case replies <- reply:
		default:
		}
	}
}
