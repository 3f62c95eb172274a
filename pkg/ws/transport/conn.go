package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

const (
	rawConnectionFailed = "connection_failed"
	closeAbnormal       = websocket.CloseAbnormalClosure
)

// connection - одно нативное соединение. Факты выпускаются строго
// последовательно: сначала горутиной dial, затем readLoop.
type connection struct {
	id        string
	t         *Transport
	url       string
	protocols []string
	opts      ws.TransportOptions
	logger    *slog.Logger

	recorder   *pinning.Recorder
	verifier   *pinning.Verifier
	pinTimeout time.Duration
	cancelDial context.CancelFunc

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once

	mu          sync.Mutex
	conn        *websocket.Conn
	state       ws.State
	seq         uint64
	queue       []ws.WireEvent
	closing     bool
	closeSent   bool
	closeCode   int
	closeReason string
	discarded   bool
}

func (c *connection) dialer() *websocket.Dialer {
	// прокси не используется: pin проверяется для конечного хоста
	d := &websocket.Dialer{
		Proxy:            nil,
		HandshakeTimeout: c.handshakeTimeout(),
		Subprotocols:     c.protocols,
		ReadBufferSize:   c.t.cfg.ReadBufferSize,
		WriteBufferSize:  c.t.cfg.WriteBufferSize,
	}

	if c.verifier != nil {
		d.TLSClientConfig = c.verifier.TLSConfig()
	} else {
		d.TLSClientConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			RootCAs:            c.t.cfg.RootCAs,
			InsecureSkipVerify: c.opts.AllowSelfSignedCerts, //nolint:gosec // явно запрошено опцией
		}
	}

	return d
}

func (c *connection) handshakeTimeout() time.Duration {
	timeout := c.t.cfg.HandshakeTimeout

	for _, d := range []time.Duration{c.opts.ConnectionTimeout, c.pinTimeout} {
		if d > 0 && d < timeout {
			timeout = d
		}
	}

	return timeout
}

func (c *connection) dial(ctx context.Context) {
	header := make(http.Header, len(c.opts.Headers))
	for k, v := range c.opts.Headers {
		header.Set(k, v)
	}

	c.logger.Info("connecting to server", slog.String("url", c.url))

	conn, _, err := c.dialer().DialContext(ctx, c.url, header)
	if err != nil {
		c.dialFailed(err)
		return
	}

	c.mu.Lock()

	if c.discarded {
		c.mu.Unlock()
		_ = conn.Close()
		c.finish()

		return
	}

	c.conn = conn

	if c.closing {
		// close пришёл, пока шло рукопожатие: сразу начинаем закрытие
		c.state = ws.StateClosing
		c.closeSent = true
		code, reason := c.closeCode, c.closeReason
		c.mu.Unlock()

		go c.readLoop(conn)

		if err := c.writeClose(conn, code, reason); err != nil {
			c.logger.Warn("failed to send close frame", "error", err)
			_ = conn.Close()
		}

		return
	}

	c.state = ws.StateOpen
	c.mu.Unlock()

	c.logger.Info("connected to server", "url", c.url, "protocol", conn.Subprotocol())

	c.emit(ws.OpenFact{Protocol: conn.Subprotocol()})

	go c.readLoop(conn)
}

func (c *connection) dialFailed(err error) {
	defer c.finish()

	c.mu.Lock()
	requested := c.closing
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	if requested {
		c.emit(ws.CloseFact{Code: code, Reason: reason, WasClean: false})
		return
	}

	msg := err.Error()
	c.logger.Warn("dial failed", "error", err)

	c.emit(ws.ErrorFact{Message: msg, RawCode: rawConnectionFailed})
	c.emit(ws.CloseFact{Code: closeAbnormal, Reason: "Connection failed: " + msg, WasClean: false})
}

func (c *connection) readLoop(conn *websocket.Conn) {
	defer c.finish()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}

		switch mt {
		case websocket.TextMessage:
			c.emit(ws.MessageFact{Data: string(data)})
		case websocket.BinaryMessage:
			c.emit(ws.MessageFact{Data: base64.StdEncoding.EncodeToString(data)})
		}
	}
}

func (c *connection) readFailed(err error) {
	c.mu.Lock()
	sent := c.closeSent
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	var ce *websocket.CloseError

	switch {
	case errors.As(err, &ce) && ce.Code == closeAbnormal && !sent:
		// gorilla сообщает обрыв TCP как CloseError 1006
		c.logger.Warn("connection lost", "error", err)

		c.emit(ws.ErrorFact{Message: "connection lost: " + ce.Text, RawCode: rawConnectionFailed})
		c.emit(ws.CloseFact{Code: closeAbnormal, Reason: ce.Text, WasClean: false})
	case errors.As(err, &ce):
		if websocket.IsUnexpectedCloseError(
			err,
			websocket.CloseGoingAway,
			websocket.CloseNormalClosure,
		) {
			c.logger.Warn("connection closed by server", "code", ce.Code, "reason", ce.Text)
		}

		// close фрейм получен - рукопожатие завершено
		c.emit(ws.CloseFact{
			Code:     ce.Code,
			Reason:   ce.Text,
			WasClean: ce.Code != closeAbnormal,
		})
	case sent:
		c.emit(ws.CloseFact{Code: code, Reason: reason, WasClean: false})
	default:
		c.logger.Error("read error", "error", err)

		c.emit(ws.ErrorFact{Message: err.Error(), RawCode: rawConnectionFailed})
		c.emit(ws.CloseFact{Code: closeAbnormal, Reason: err.Error(), WasClean: false})
	}
}

// close начинает закрывающее рукопожатие и ждёт его завершения.
func (c *connection) close(ctx context.Context, code int, reason string) error {
	c.mu.Lock()

	switch c.state {
	case ws.StateClosed:
		c.mu.Unlock()
		return nil
	case ws.StateClosing:
		c.mu.Unlock()
		return c.wait(ctx)
	case ws.StateConnecting:
		c.closing = true
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()

		c.cancelDial()

		return c.wait(ctx)
	}

	c.state = ws.StateClosing
	c.closing = true
	c.closeSent = true
	c.closeCode, c.closeReason = code, reason
	conn := c.conn
	c.mu.Unlock()

	c.logger.Info("closing connection", "code", code, "reason", reason)

	if err := c.writeClose(conn, code, reason); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send close frame: %w", err)
	}

	return c.wait(ctx)
}

func (c *connection) writeClose(conn *websocket.Conn, code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)

	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.t.cfg.CloseTimeout))
}

func (c *connection) wait(ctx context.Context) error {
	timer := time.NewTimer(c.t.cfg.CloseTimeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.forceClose()
		return ctx.Err()
	case <-timer.C:
		c.forceClose()
		return ErrCloseTimeout
	}
}

func (c *connection) forceClose() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *connection) send(text string) error {
	c.mu.Lock()

	if c.state != ws.StateOpen {
		c.mu.Unlock()
		return ErrNotOpen
	}

	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("failed to send data: %w", err)
	}

	return nil
}

func (c *connection) readyState() ws.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// emit нумерует факт, кладёт его в очередь до опроса и рассылает подписчикам.
func (c *connection) emit(f ws.Fact) {
	c.mu.Lock()

	if c.discarded {
		c.mu.Unlock()
		return
	}

	c.seq++
	ev := ws.WireEvent{ID: c.id, Seq: c.seq, Fact: f}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	c.t.publish(ev)
}

func (c *connection) drain() []ws.WireEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.queue
	c.queue = nil

	return events
}

func (c *connection) finish() {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = ws.StateClosed
		c.mu.Unlock()

		close(c.done)
	})
}

func (c *connection) cleanup() {
	c.mu.Lock()
	c.discarded = true
	c.queue = nil
	conn := c.conn
	c.mu.Unlock()

	c.cancelDial()

	if conn != nil {
		_ = conn.Close()
	}
}
