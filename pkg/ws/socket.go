package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LLIEPJIOK/pinned-ws/pkg/ws/pinning"
)

const teardownTimeout = 10 * time.Second

// Socket - одно логическое соединение. Создаётся в CLOSED, подключается
// один раз; после терминального CLOSED нужно создавать новый Socket.
type Socket struct {
	id        string
	cfg       Config
	transport Transport
	logger    *slog.Logger

	listeners *listenerRegistry
	events    *serialQueue // доставка событий подписчикам
	outbox    *serialQueue // отправка данных в транспорт
	delivery  delivery

	// bg отслеживает фоновые вызовы транспорта (close, cleanup)
	bg sync.WaitGroup

	mu              sync.Mutex
	sm              stateMachine
	dedup           *dedupWindow
	protocol        string
	started         bool
	cleaned         bool
	closeDispatched bool
}

// New создаёт соединение без ввода-вывода. transport обязателен.
// Соединение регистрируется в общем реестре и удаляется из него только
// в Cleanup, поэтому Cleanup нужно вызывать всегда, в том числе после close.
func New(cfg Config, transport Transport) *Socket {
	if transport == nil {
		panic("ws: nil transport")
	}

	cfg = cfg.withDefaults()
	id := "ws_" + uuid.NewString()

	s := &Socket{
		id:        id,
		cfg:       cfg,
		transport: transport,
		logger:    cfg.Logger.With(slog.String("id", id)),
		events:    newSerialQueue(),
		outbox:    newSerialQueue(),
		sm:        stateMachine{state: StateClosed},
		dedup:     newDedupWindow(),
	}

	s.listeners = newListenerRegistry(s.logger)
	s.delivery = newDelivery(s)

	live.add(s)

	return s
}

func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) URL() string {
	return s.cfg.URL
}

func (s *Socket) ReadyState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sm.state
}

// Protocol возвращает согласованный подпротокол (пусто до open).
func (s *Socket) Protocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.protocol
}

// Connect начинает подключение и возвращается после ответа CreateConnection.
// Любая ошибка, в том числе повторный вызов, доставляется событием error.
func (s *Socket) Connect(ctx context.Context) {
	s.mu.Lock()

	if s.cleaned || !s.sm.transition(StateConnecting) {
		s.emitErrorLocked(ErrAlreadyConnecting, Classification{KindValidation, CodeWebSocketExists})
		s.mu.Unlock()

		return
	}

	s.started = true
	s.mu.Unlock()

	if c, err := s.cfg.validate(); err != nil {
		s.mu.Lock()
		s.sm.transition(StateClosed)
		s.emitErrorLocked(err, c)
		s.mu.Unlock()

		return
	}

	s.logger.Info("connecting", slog.String("url", s.cfg.URL))

	s.delivery.attach()

	err := s.transport.CreateConnection(ctx, s.id, s.cfg.URL, s.cfg.Protocols, s.cfg.Pinning, s.cfg.Options)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.cleaned:
		// cleanup мог отработать до регистрации соединения в транспорте
		if err == nil {
			s.background(func(ctx context.Context) error {
				return s.transport.CleanupConnection(ctx, s.id)
			}, "cleanup after connect")
		}
	case err != nil:
		s.delivery.stop()

		if s.sm.state != StateClosed {
			s.sm.transition(StateClosed)
			s.emitErrorLocked(err, Classify(err.Error()))
		}

		s.logger.Warn("failed to create websocket", "error", err)
	case s.sm.state == StateClosed:
		// close не дошёл до транспорта, пока соединение создавалось
		s.background(func(ctx context.Context) error {
			return s.transport.CloseConnection(ctx, s.id, closeNormal, "")
		}, "close after connect")
	default:
		s.delivery.start(context.WithoutCancel(ctx))
	}
}

// Close запрашивает закрытие. code 0 означает 1000. На CLOSED ничего не делает.
func (s *Socket) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sm.state == StateClosed || !s.sm.transition(StateClosing) {
		return
	}

	if code == 0 {
		code = closeNormal
	}

	s.logger.Info("closing", "code", code, "reason", reason)

	s.bg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		err := s.transport.CloseConnection(ctx, s.id, code, reason)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err != nil {
			s.logger.Warn("error closing websocket", "error", err)

			forced := reason
			if forced == "" {
				forced = "Connection forcibly closed"
			}

			s.finishLocked(CloseEvent{Code: code, Reason: forced, WasClean: false})

			return
		}

		s.finishLocked(CloseEvent{Code: code, Reason: reason, WasClean: true})
	})
}

// Send отправляет строку как есть, []byte - в base64. Вне OPEN возвращает
// ErrInvalidState. Ошибки транспорта доставляются событием error.
func (s *Socket) Send(data any) error {
	if s.ReadyState() != StateOpen {
		return ErrInvalidState
	}

	var text string

	switch v := data.(type) {
	case string:
		text = v
	case []byte:
		text = base64.StdEncoding.EncodeToString(v)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedPayload, data)
	}

	s.outbox.push(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		err := s.transport.SendData(ctx, s.id, text)
		if err == nil {
			return
		}

		s.logger.Warn("failed to send data", "error", err)

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.sm.state != StateClosed && !s.cleaned {
			s.emitErrorLocked(err, classifyFact(err.Error(), "send_failed"))
		}
	})

	return nil
}

// AddEventListener возвращает идентификатор для RemoveEventListener.
// Для неизвестной категории или nil возвращается 0.
func (s *Socket) AddEventListener(cat Category, fn Listener) ListenerID {
	if !cat.valid() || fn == nil {
		return 0
	}

	return s.listeners.add(cat, fn)
}

func (s *Socket) RemoveEventListener(cat Category, id ListenerID) bool {
	return s.listeners.remove(cat, id)
}

func (s *Socket) OnOpen(fn func(OpenEvent)) ListenerID {
	return s.AddEventListener(CategoryOpen, func(ev Event) { fn(ev.(OpenEvent)) })
}

func (s *Socket) OnMessage(fn func(MessageEvent)) ListenerID {
	return s.AddEventListener(CategoryMessage, func(ev Event) { fn(ev.(MessageEvent)) })
}

func (s *Socket) OnError(fn func(ErrorEvent)) ListenerID {
	return s.AddEventListener(CategoryError, func(ev Event) { fn(ev.(ErrorEvent)) })
}

func (s *Socket) OnClose(fn func(CloseEvent)) ListenerID {
	return s.AddEventListener(CategoryClose, func(ev Event) { fn(ev.(CloseEvent)) })
}

// ValidationResult запрашивает у транспорта результат проверки пиннинга.
// Ошибки не возвращаются: при любой проблеме результат nil.
func (s *Socket) ValidationResult(ctx context.Context) *pinning.Result {
	res, err := s.transport.GetValidationResult(ctx, s.id)
	if err != nil {
		s.logger.Debug("failed to get validation result", "error", err)
		return nil
	}

	return res
}

// RemoteReadyState - состояние соединения по данным транспорта.
func (s *Socket) RemoteReadyState(ctx context.Context) (State, error) {
	state, err := s.transport.GetReadyState(ctx, s.id)
	if err != nil {
		return StateClosed, fmt.Errorf("failed to get ready state: %w", err)
	}

	return State(state), nil
}

// Cleanup принудительно переводит в CLOSED, удаляет подписчиков и
// освобождает ресурсы транспорта. Повторные вызовы ничего не делают.
func (s *Socket) Cleanup() {
	s.mu.Lock()

	if s.cleaned {
		s.mu.Unlock()
		return
	}

	s.cleaned = true
	wasActive := s.sm.state != StateClosed
	started := s.started

	s.sm.forceClosed()
	s.delivery.stop()
	s.mu.Unlock()

	s.listeners.clear()
	live.remove(s.id)

	if !started {
		return
	}

	s.bg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if wasActive {
			if err := s.transport.CloseConnection(ctx, s.id, closeNormal, "Cleanup"); err != nil {
				s.logger.Warn("error closing websocket during cleanup", "error", err)
			}
		}

		if err := s.transport.CleanupConnection(ctx, s.id); err != nil {
			s.logger.Warn("error during transport cleanup", "error", err)
		}
	})
}

// background выполняет вызов транспорта вне мьютекса и только логирует ошибку.
func (s *Socket) background(call func(ctx context.Context) error, what string) {
	s.bg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := call(ctx); err != nil {
			s.logger.Warn("background transport call failed", "call", what, "error", err)
		}
	})
}
