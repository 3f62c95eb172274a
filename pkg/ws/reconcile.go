package ws

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

const (
	maxDedupWindow     = 1024
	diagnosticsTimeout = 5 * time.Second
)

// dedupWindow пропускает каждый пронумерованный факт ровно один раз.
// floor - максимальный номер, до которого применены все факты подряд;
// seen - применённые номера выше floor.
type dedupWindow struct {
	floor uint64
	seen  map[uint64]struct{}
}

func newDedupWindow() *dedupWindow {
	return &dedupWindow{seen: make(map[uint64]struct{})}
}

func (w *dedupWindow) admit(seq uint64) bool {
	if seq == 0 {
		return true
	}

	if seq <= w.floor {
		return false
	}

	if _, ok := w.seen[seq]; ok {
		return false
	}

	w.seen[seq] = struct{}{}
	w.compact()

	return true
}

func (w *dedupWindow) compact() {
	for {
		next := w.floor + 1
		if _, ok := w.seen[next]; !ok {
			break
		}

		delete(w.seen, next)
		w.floor = next
	}

	// пропуск, который так и не заполнился, не должен держать память
	if len(w.seen) > maxDedupWindow {
		w.floor = slices.Min(slices.Collect(maps.Keys(w.seen)))
		delete(w.seen, w.floor)
		w.compact()
	}
}

// applyFact - единая точка входа для фактов из опроса, подписки и Dispatch.
func (s *Socket) applyFact(ev WireEvent, src source) {
	if ev.ID != s.id || ev.Fact == nil {
		return
	}

	if _, ok := live.lookup(ev.ID); !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cleaned || !s.started {
		return
	}

	if !s.dedup.admit(ev.Seq) {
		s.logger.Debug("duplicate fact dropped", "seq", ev.Seq, "source", src)
		return
	}

	switch f := ev.Fact.(type) {
	case OpenFact:
		s.onOpenLocked(f)
	case MessageFact:
		s.onMessageLocked(f)
	case ErrorFact:
		s.onErrorLocked(f)
	case CloseFact:
		s.onCloseLocked(f)
	}
}

func (s *Socket) onOpenLocked(f OpenFact) {
	if !s.sm.transition(StateOpen) {
		s.logger.Debug("open fact ignored", "state", s.sm.state)
		return
	}

	s.protocol = f.Protocol
	s.logger.Info("websocket opened", "protocol", f.Protocol)
	s.emitLocked(OpenEvent{Protocol: f.Protocol})
}

func (s *Socket) onMessageLocked(f MessageFact) {
	if s.sm.state == StateClosed {
		return
	}

	s.emitLocked(MessageEvent{Data: f.Data})
}

func (s *Socket) onErrorLocked(f ErrorFact) {
	state := s.sm.state
	if state == StateClosed {
		return
	}

	msg := f.Message
	if msg == "" {
		msg = "unknown websocket error"
	}

	s.emitErrorLocked(errors.New(msg), classifyFact(msg, f.RawCode))

	switch {
	case state == StateConnecting:
		// попытка подключения провалилась; опрос продолжается, чтобы
		// доставить последующий close
		s.sm.transition(StateClosed)
		s.logger.Warn("websocket connection failed", "error", msg)
	case state == StateOpen && s.cfg.ErrorPolicy == ErrorPolicyForceClose:
		s.sm.transition(StateClosed)
		s.logger.Warn("websocket closed by error", "error", msg)
	}
}

func (s *Socket) onCloseLocked(f CloseFact) {
	code := f.Code
	if code == 0 {
		code = closeNormal
	}

	s.finishLocked(CloseEvent{Code: code, Reason: f.Reason, WasClean: f.WasClean})
}

// finishLocked - единственный переход в терминальный CLOSED с доставкой close.
// Повторные вызовы ничего не делают.
func (s *Socket) finishLocked(ev CloseEvent) {
	s.sm.forceClosed()
	s.delivery.stop()

	if s.closeDispatched || s.cleaned {
		return
	}

	s.closeDispatched = true
	s.logger.Info("websocket closed", "code", ev.Code, "reason", ev.Reason, "clean", ev.WasClean)
	s.emitLocked(ev)
}

func (s *Socket) pollDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sm.state == StateOpen {
		return s.cfg.Pacing.Open
	}

	return s.cfg.Pacing.Idle
}

// emitLocked ставит событие в очередь доставки. Порядок доставки совпадает
// с порядком изменений состояния, подписчики вызываются без блокировки.
func (s *Socket) emitLocked(ev Event) {
	s.events.push(func() {
		s.listeners.emit(ev)
	})
}

func (s *Socket) emitErrorLocked(err error, c Classification) {
	ev := newErrorEvent(err, c)

	if ev.Kind != KindSSLPinning || !s.started {
		s.emitLocked(ev)
		return
	}

	// диагностику пиннинга запрашиваем у транспорта уже в очереди доставки,
	// чтобы не держать мьютекс на вводе-выводе
	s.events.push(func() {
		ev.Pinning = s.pinningDiagnostics()
		s.listeners.emit(ev)
	})
}

func (s *Socket) pinningDiagnostics() *PinningInfo {
	ctx, cancel := context.WithTimeout(context.Background(), diagnosticsTimeout)
	defer cancel()

	if info := pinningInfo(s.ValidationResult(ctx)); info != nil {
		return info
	}

	if s.cfg.Pinning == nil {
		return nil
	}

	return &PinningInfo{
		Hostname:       s.cfg.Pinning.Hostname,
		ExpectedHashes: slices.Clone(s.cfg.Pinning.PublicKeyHashes),
	}
}
