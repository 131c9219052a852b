// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// handleJobStream pushes job-notification batches over a WebSocket.
// sectionId=0 (or absent) subscribes to every section.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := s.fabric.Hub().Subscribe(queryInt64(r, "sectionId", 0))
	defer sub.Close()
	defer conn.Close()

	go wsReadPump(conn)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case batch, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(batch); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

type itemUpdateFrame struct {
	ItemUUID string `json:"itemUuid"`
}

// handleItemStream pushes the UUID of every metadata item whose fields
// changed, so detail views can re-fetch.
func (s *Server) handleItemStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := s.items.Subscribe()
	defer sub.Close()
	defer conn.Close()

	go wsReadPump(conn)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case id, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(itemUpdateFrame{ItemUUID: id}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// wsReadPump drains client frames so pong handling and close negotiation
// work; we never expect payload from clients.
func wsReadPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
