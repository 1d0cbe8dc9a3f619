package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/wire"
)

const (
	// streamReadLimit bounds one inbound frame. A full 30 s audio payload
	// serialized as a JSON float array stays well under this.
	streamReadLimit = 16 << 20

	// streamWriteTimeout bounds one outbound write so a stalled client
	// cannot wedge the writer goroutine.
	streamWriteTimeout = 10 * time.Second
)

// handleStream serves the primary streaming WebSocket. Each connection gets
// one session; text frames carry protocol envelopes, binary frames carry raw
// little-endian float32 audio, and an empty binary frame means stop.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(streamReadLimit)

	sess, err := s.manager.Open()
	if err != nil {
		s.refuse(r.Context(), c, err)
		return
	}
	defer sess.Close()
	observe.TagSession(r.Context(), sess.ID())

	log := s.log.With("client_id", sess.ID())
	log.Info("stream connected", "remote", clientIP(r))

	// The writer drains the session's outbound channel until the session
	// ends, then closes the socket, which in turn unblocks the reader.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for env := range sess.Outbound() {
			b, err := json.Marshal(env)
			if err != nil {
				log.Warn("marshal outbound envelope", "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
			err = c.Write(ctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				log.Debug("outbound write failed", "error", err)
				sess.Close()
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "session closed")
	}()

	for {
		typ, data, err := c.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("stream read failed", "error", err)
			}
			break
		}
		if typ == websocket.MessageBinary {
			err = sess.HandleBinary(data)
		} else {
			err = sess.HandleText(data)
		}
		if err != nil {
			break
		}
	}

	sess.Close()
	<-writeDone
	log.Info("stream disconnected")
}

// refuse reports a failed admission on the freshly accepted socket and
// closes it.
func (s *Server) refuse(ctx context.Context, c *websocket.Conn, cause error) {
	env := wire.NewErrorEnvelope(wire.FromError(cause).Data())
	if b, err := json.Marshal(env); err == nil {
		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		_ = c.Write(wctx, websocket.MessageText, b)
		cancel()
	}
	c.Close(websocket.StatusTryAgainLater, "server at capacity")
}
