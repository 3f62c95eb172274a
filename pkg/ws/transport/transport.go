// Package transport - эталонная реализация ws.Transport поверх
// github.com/gorilla/websocket. Факты о каждом соединении нумеруются,
// складываются в очередь до опроса и параллельно рассылаются подписчикам.
package transport

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws"
	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

var (
	ErrExists       = errors.New("websocket with this id already exists")
	ErrNotOpen      = errors.New("websocket is not in OPEN state")
	ErrCloseTimeout = errors.New("close handshake timeout")
	ErrEmptyID      = errors.New("websocket id is required")
)

type Config struct {
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// RootCAs - доверенные CA для проверки цепочки, nil - системные.
	RootCAs *x509.CertPool
	Logger  *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 45 * time.Second,
		CloseTimeout:     5 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		Logger:           slog.Default(),
	}
}

type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[string]*connection
	subs    map[string]map[uint64]func(ws.WireEvent)
	nextSub uint64
}

var (
	_ ws.Transport  = (*Transport)(nil)
	_ ws.Subscriber = (*Transport)(nil)
)

func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}

	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultConfig().CloseTimeout
	}

	return &Transport{
		cfg:    cfg,
		logger: cfg.Logger,
		conns:  make(map[string]*connection),
		subs:   make(map[string]map[uint64]func(ws.WireEvent)),
	}
}

// CreateConnection регистрирует соединение и запускает подключение в фоне.
// Результат подключения (open или error+close) приходит фактами.
func (t *Transport) CreateConnection(
	ctx context.Context,
	id, rawURL string,
	protocols []string,
	pin *pinning.Config,
	opts ws.TransportOptions,
) error {
	if id == "" {
		return ErrEmptyID
	}

	u, err := ws.ValidateURL(rawURL)
	if err != nil {
		return err
	}

	c := &connection{
		id:        id,
		t:         t,
		url:       u.String(),
		protocols: protocols,
		opts:      opts,
		state:     ws.StateConnecting,
		done:      make(chan struct{}),
		logger:    t.logger.With(slog.String("id", id)),
	}

	if u.Scheme == "wss" && pin != nil {
		c.recorder = &pinning.Recorder{}

		c.verifier, err = pinning.NewVerifier(pinning.VerifierConfig{
			Pin:             pin,
			Host:            u.Hostname(),
			AllowSelfSigned: opts.AllowSelfSignedCerts,
			RootCAs:         t.cfg.RootCAs,
			Recorder:        c.recorder,
			Logger:          c.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to setup ssl pinning: %w", err)
		}

		c.pinTimeout = pin.Timeout
	}

	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelDial = cancel

	t.mu.Lock()

	if _, ok := t.conns[id]; ok {
		t.mu.Unlock()
		cancel()

		return fmt.Errorf("%w: %s", ErrExists, id)
	}

	t.conns[id] = c
	t.mu.Unlock()

	go c.dial(dialCtx)

	return nil
}

func (t *Transport) CloseConnection(ctx context.Context, id string, code int, reason string) error {
	c, ok := t.lookup(id)
	if !ok {
		return ws.ErrNotFound
	}

	return c.close(ctx, code, reason)
}

func (t *Transport) SendData(_ context.Context, id, text string) error {
	c, ok := t.lookup(id)
	if !ok {
		return ws.ErrNotFound
	}

	return c.send(text)
}

func (t *Transport) GetReadyState(_ context.Context, id string) (int, error) {
	c, ok := t.lookup(id)
	if !ok {
		return 0, ws.ErrNotFound
	}

	return int(c.readyState()), nil
}

func (t *Transport) GetValidationResult(_ context.Context, id string) (*pinning.Result, error) {
	c, ok := t.lookup(id)
	if !ok {
		return nil, ws.ErrNotFound
	}

	if c.recorder == nil {
		return nil, nil
	}

	return c.recorder.Load(), nil
}

// PollEvents для неизвестного id возвращает пустой список.
func (t *Transport) PollEvents(_ context.Context, id string) ([]ws.WireEvent, error) {
	c, ok := t.lookup(id)
	if !ok {
		return nil, nil
	}

	return c.drain(), nil
}

func (t *Transport) CleanupConnection(_ context.Context, id string) error {
	t.mu.Lock()
	c, ok := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()

	if ok {
		c.cleanup()
	}

	return nil
}

func (t *Transport) Subscribe(id string, fn func(ws.WireEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSub++
	key := t.nextSub

	set, ok := t.subs[id]
	if !ok {
		set = make(map[uint64]func(ws.WireEvent))
		t.subs[id] = set
	}

	set[key] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		delete(t.subs[id], key)

		if len(t.subs[id]) == 0 {
			delete(t.subs, id)
		}
	}
}

func (t *Transport) lookup(id string) (*connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[id]

	return c, ok
}

// publish рассылает факт подписчикам. Вызывается без блокировок: подписчик
// может отписаться прямо из обработчика.
func (t *Transport) publish(ev ws.WireEvent) {
	t.mu.Lock()
	fns := make([]func(ws.WireEvent), 0, len(t.subs[ev.ID]))

	for _, fn := range t.subs[ev.ID] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
