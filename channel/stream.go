package channel

import (
	"time"

	"github.com/gorilla/websocket"
)

// stream is the inbound side of one connection lifetime. A reconnect starts
// a new stream; an old one is never resumed.
type stream struct {
	frames chan []byte
	done   chan error
	quit   chan struct{}
}

// newStream starts reading conn. A connection that stays silent for longer
// than readTimeout, pings included, is treated as lost.
func newStream(conn *websocket.Conn, readTimeout time.Duration) *stream {
	s := &stream{
		frames: make(chan []byte),
		done:   make(chan error, 1),
		quit:   make(chan struct{}),
	}
	go s.read(conn, readTimeout)
	return s
}

func (s *stream) read(conn *websocket.Conn, readTimeout time.Duration) {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	extend()
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.done <- err
			return
		}
		extend()
		if mt != websocket.TextMessage {
			continue
		}
		select {
		case s.frames <- data:
		case <-s.quit:
			return
		}
	}
}

func (s *stream) stop() {
	close(s.quit)
}
