package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// session is one websocket connection. Commands are handled one at a time
// on its read goroutine; frames are written by its write goroutine.
type session struct {
	user   string
	conn   *websocket.Conn
	send   chan []byte
	logger *log.Entry
	// marker announced with JOIN, empty before. Only the read goroutine
	// touches it.
	marker string
}

func newSession(conn *websocket.Conn, user string, logger *log.Entry) *session {
	return &session{
		user:   user,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.WithFields(log.Fields{"session": uuid.NewString(), "user": user}),
	}
}

func (s *session) enqueue(frame []byte) {
	select {
	case s.send <- frame:
	default:
		s.logger.Warn("send buffer full, dropping frame")
	}
}

func (s *session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return ctx.Err()
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, s *session) error {
	s.conn.SetReadLimit(maxMessageSize)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		cmd, err := domain.DecodeOutbound(data)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed command")
			continue
		}
		if err := h.handle(ctx, s, cmd); err != nil {
			s.logger.WithError(err).WithField("event", cmd.Tag()).Error("command failed")
		}
	}
}

// serve runs the session until either side stops.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, user string) {
	s := newSession(conn, user, h.logger)
	defer h.groups.removeAll(s)
	s.logger.Info("session opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() { errCh <- s.writePump(ctx) }()
	go func() { errCh <- h.readPump(ctx, s) }()

	err := <-errCh
	cancel()
	conn.Close()
	<-errCh
	s.logger.WithField("reason", err.Error()).Info("session closed")
}
