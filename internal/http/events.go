package http

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     loopbackOrigin,
}

// loopbackOrigin accepts non-browser clients (no Origin) and pages served from this machine.
func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return loopbackHost(u.Host)
}

// handleEvents streams every bus event to the client as JSON until either side closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// subscribe before the upgrade completes so nothing published after the
	// handshake is missed
	ch := make(chan bus.Event, eventBuffer)
	id := s.events.Subscribe("*", func(e bus.Event) {
		select {
		case ch <- e:
		default:
			L_warn("http: event client too slow, dropping event", "topic", e.Topic)
		}
	})
	defer s.events.Unsubscribe(id)

	//nolint:bodyclose // hijacked connection
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		L_debug("http: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	L_debug("http: event client connected", "remote", r.RemoteAddr)

	// reader: only needed to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				L_debug("http: event write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-closed:
			L_debug("http: event client disconnected", "remote", r.RemoteAddr)
			return
		case <-s.shutdownChan:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-r.Context().Done():
			return
		}
	}
}
