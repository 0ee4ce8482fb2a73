package main

import (
	"context"
	"net/http"
	"time"

	"socialqueue/internal/middleware"
	"socialqueue/internal/models"
	"socialqueue/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleStream pushes the caller's terminal status events over a websocket
// until either side goes away. Client messages are ignored.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, _ := middleware.OwnerFromContext(r.Context())

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"roamresearch.com", "localhost:*"},
		})
		if err != nil {
			s.logger.WithError(err).Warn("Websocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		events, cancel := s.feed.Subscribe(owner)
		defer cancel()

		logger := s.logger.WithField(service.LogFieldOwner, service.SanitizeOwner(r.Context(), owner))
		logger.Debug("Status stream opened")

		ctx := conn.CloseRead(r.Context())
		ping := time.NewTicker(streamPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("Status stream closed by client")
				return

			case event, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeEvent(ctx, conn, event); err != nil {
					logger.WithError(err).Debug("Status stream write failed")
					return
				}

			case <-ping.C:
				pingCtx, cancelPing := context.WithTimeout(ctx, streamWriteTimeout)
				err := conn.Ping(pingCtx)
				cancelPing()
				if err != nil {
					logger.WithError(err).Debug("Status stream ping failed")
					return
				}
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event models.StatusEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
