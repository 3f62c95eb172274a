// Package wstest - эхо-сервер и тестовая PKI для проверки клиентов ws
// против настоящего gorilla/websocket сервера.
package wstest

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Команды, которые сервер выполняет вместо эха.
const (
	// CommandClose - "close:<code>:<reason>", сервер начинает закрытие.
	CommandClose = "close:"
	// CommandDrop - сервер рвёт TCP соединение без close фрейма.
	CommandDrop = "drop"
	// CommandBinary - "binary:<payload>", payload возвращается бинарным фреймом.
	CommandBinary = "binary:"
)

type Config struct {
	Subprotocols []string
	Logger       *slog.Logger
}

func DefaultConfig() Config {
	return Config{Logger: slog.Default()}
}

type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	received []string
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    cfg.Subprotocols,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: cfg.Logger,
	}
}

// Received возвращает копию принятых текстовых сообщений в порядке получения.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Debug("client connected", "remote_addr", conn.RemoteAddr())

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Debug("read error", "error", err)
			}

			return
		}

		text := string(data)

		if mt == websocket.TextMessage {
			s.mu.Lock()
			s.received = append(s.received, text)
			s.mu.Unlock()
		}

		switch {
		case text == CommandDrop:
			return
		case strings.HasPrefix(text, CommandBinary):
			payload := []byte(strings.TrimPrefix(text, CommandBinary))

			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				s.logger.Error("failed to write message", "error", err)
				return
			}
		case strings.HasPrefix(text, CommandClose):
			code, reason := parseClose(text)
			msg := websocket.FormatCloseMessage(code, reason)

			// ответный close фрейм клиента завершит цикл чтения
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				s.logger.Error("failed to write close", "error", err)
				return
			}
		default:
			if err := conn.WriteMessage(mt, data); err != nil {
				s.logger.Error("failed to write message", "error", err)
				return
			}
		}
	}
}

func parseClose(cmd string) (int, string) {
	code, reason, _ := strings.Cut(strings.TrimPrefix(cmd, CommandClose), ":")

	n, err := strconv.Atoi(code)
	if err != nil {
		n = websocket.CloseNormalClosure
	}

	return n, reason
}

// Start поднимает ws:// сервер и возвращает его адрес.
func Start(t testing.TB, s *Server) string {
	t.Helper()

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// StartTLS поднимает wss:// сервер с заданным сертификатом.
func StartTLS(t testing.TB, s *Server, cert tls.Certificate) string {
	t.Helper()

	ts := httptest.NewUnstartedServer(s)
	ts.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	ts.StartTLS()
	t.Cleanup(ts.Close)

	return "wss" + strings.TrimPrefix(ts.URL, "https")
}
